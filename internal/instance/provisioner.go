// Package instance provisions remote code-editing instances. The
// collaboration protocol treats provisioning as an opaque tool surface;
// this package is the server-side implementation behind it.
package instance

import (
	"context"
	"time"
)

// Spec describes the instance to provision.
type Spec struct {
	Name        string            `json:"name,omitempty"`
	Image       string            `json:"image"`
	WorkspaceID string            `json:"workspaceId"`
	Env         []string          `json:"env,omitempty"`
	MemoryMB    int64             `json:"memoryMb,omitempty"`
	CPUs        float64           `json:"cpus,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Instance is a provisioned code-editing instance.
type Instance struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Image       string    `json:"image"`
	WorkspaceID string    `json:"workspaceId"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// Provisioner creates and controls instances.
type Provisioner interface {
	// Provision creates and starts an instance.
	Provision(ctx context.Context, spec Spec) (*Instance, error)
	// Stop stops and removes an instance.
	Stop(ctx context.Context, id string) error
	// Status reports the current state of an instance.
	Status(ctx context.Context, id string) (*Instance, error)
	// List returns the instances provisioned for a workspace.
	List(ctx context.Context, workspaceID string) ([]*Instance, error)
	// Close releases the underlying client.
	Close() error
}
