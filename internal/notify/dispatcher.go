// Package notify fans session events out to connected clients.
// Delivery is best-effort: a full outbound queue drops the notification
// for that client and logs it, never stalling the other recipients.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// fatalSendTimeout bounds the synchronous path for fatal errors.
const fatalSendTimeout = 5 * time.Second

// Dispatcher delivers notifications through the connection manager.
type Dispatcher struct {
	conns *conn.Manager
}

// NewDispatcher creates a dispatcher over the given connections.
func NewDispatcher(conns *conn.Manager) *Dispatcher {
	return &Dispatcher{conns: conns}
}

// Dispatch enqueues a notification to every recipient except exclude.
// The recipient list is a snapshot taken by the caller under its own
// lock; clients that disconnected since are skipped silently.
func (d *Dispatcher) Dispatch(recipients []string, exclude, event, sessionID string, data map[string]any) {
	msg := protocol.NewMessage(protocol.TypeNotification, uuid.NewString(),
		protocol.NotificationPayload{
			Event:     event,
			SessionID: sessionID,
			Data:      data,
		})

	for _, clientID := range recipients {
		if clientID == exclude {
			continue
		}
		client, ok := d.conns.Get(clientID)
		if !ok {
			continue
		}
		if err := client.Endpoint.Send(msg); err != nil {
			if errors.Is(err, conn.ErrQueueFull) {
				metrics.NotificationsDropped.WithLabelValues(event).Inc()
				logger.Error("dropped %s notification for client %s: queue full", event, clientID)
				continue
			}
			logger.Error("failed to notify client %s: %v", clientID, err)
		}
	}
}

// Broadcast enqueues a message to every connected client.
func (d *Dispatcher) Broadcast(msg *protocol.Message) {
	for _, client := range d.conns.List() {
		if err := client.Endpoint.Send(msg); err != nil {
			logger.Error("broadcast to client %s failed: %v", client.ID, err)
		}
	}
}

// SendError returns a protocol error to one client. Fatal errors take
// the synchronous path so they are never dropped by a full queue.
func (d *Dispatcher) SendError(clientID, relatedTo string, perr *protocol.Error) {
	client, ok := d.conns.Get(clientID)
	if !ok {
		return
	}
	d.sendError(client, relatedTo, perr)
}

func (d *Dispatcher) sendError(client *conn.Client, relatedTo string, perr *protocol.Error) {
	msg := protocol.NewErrorMessage(relatedTo, perr)
	metrics.ErrorsTotal.WithLabelValues(string(perr.Code), string(protocol.CategoryOf(perr.Code))).Inc()

	if perr.Fatal {
		ctx, cancel := context.WithTimeout(context.Background(), fatalSendTimeout)
		defer cancel()
		if err := client.Endpoint.SendSync(ctx, msg); err != nil {
			logger.Error("failed to deliver fatal error to client %s: %v", client.ID, err)
		}
		return
	}
	if err := client.Endpoint.Send(msg); err != nil {
		logger.Error("failed to deliver error to client %s: %v", client.ID, err)
	}
}
