package protocol

import (
	"errors"
	"testing"
)

func TestRetryableMatrix(t *testing.T) {
	retryable := []Code{
		CodeInvalidMessageFormat, CodeUnknownMessageType,
		CodeMissingRequiredField, CodeInvalidFieldValue,
		CodeSessionNotFound, CodeResourceNotFound, CodeResourceLocked,
		CodeServerError, CodeServerOverloaded,
		CodeClientTimeout, CodeClientRateLimited,
	}
	for _, c := range retryable {
		if !IsRetryable(c) {
			t.Errorf("IsRetryable(%s) = false, want true", c)
		}
	}

	terminal := []Code{
		CodeAuthFailed, CodeAuthExpired, CodeAuthRequired, CodeClientNotAuthenticated,
		CodeSessionAlreadyExists, CodeSessionJoinRejected, CodeSessionFull,
		CodeResourceLimitExceeded, CodeResourceConflict,
		CodeServerMaintenance, CodeServerShuttingDown,
		CodeClientVersionUnsupported, CodeMaxClientsReached,
		CodeClientIDInUse, CodePermissionDenied,
	}
	for _, c := range terminal {
		if IsRetryable(c) {
			t.Errorf("IsRetryable(%s) = true, want false", c)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		code Code
		want Category
	}{
		{CodeInvalidMessageFormat, CategoryProtocol},
		{CodeAuthExpired, CategoryAuth},
		{CodeSessionFull, CategorySession},
		{CodeResourceLocked, CategoryResource},
		{CodeServerOverloaded, CategoryServer},
		{CodeClientIDInUse, CategoryClient},
		{Code("NO_SUCH_CODE"), CategoryServer},
	}
	for _, tt := range tests {
		if got := CategoryOf(tt.code); got != tt.want {
			t.Errorf("CategoryOf(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}

	pe := Errorf(CodeAuthFailed, "bad token")
	if got := AsError(pe); got != pe {
		t.Error("AsError should pass protocol errors through unchanged")
	}

	plain := errors.New("disk on fire")
	got := AsError(plain)
	if got.Code != CodeServerError {
		t.Errorf("AsError(plain).Code = %s, want %s", got.Code, CodeServerError)
	}
	if got.Message != "disk on fire" {
		t.Errorf("AsError(plain).Message = %q", got.Message)
	}
}
