// Package trigger launches analysis when the database announces a document
// change on a LISTEN/NOTIFY channel.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// DefaultChannel is the channel the documents trigger notifies.
const DefaultChannel = "document_changed"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Launcher queues analysis of a document.
type Launcher interface {
	LaunchAnalysis(ctx context.Context, principal store.Principal, key model.DocumentKey) error
}

// Clearer forgets a document's progress entry.
type Clearer interface {
	ClearProgressStatus(key model.DocumentKey)
}

// Notification is the payload of a document_changed notification.
type Notification struct {
	Repository string `json:"repository"`
	DocumentID string `json:"documentId"`
	Deleted    bool   `json:"deleted"`
}

// Key returns the changed document's key.
func (n Notification) Key() model.DocumentKey {
	return model.DocumentKey{Repository: n.Repository, DocumentID: n.DocumentID}
}

// ParseNotification decodes a notification payload.
func ParseNotification(payload string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, fmt.Errorf("decoding notification: %v: %w", err, pferrors.ErrValidation)
	}
	if n.Repository == "" || n.DocumentID == "" {
		return n, fmt.Errorf("notification without repository or document id: %w", pferrors.ErrValidation)
	}
	return n, nil
}

// Listener consumes document change notifications.
type Listener struct {
	connStr   string
	channel   string
	principal store.Principal
	launcher  Launcher
	logger    logging.Logger
}

// Option configures a Listener.
type Option func(*Listener)

// WithChannel listens on a channel other than DefaultChannel.
func WithChannel(channel string) Option {
	return func(l *Listener) {
		if channel != "" {
			l.channel = channel
		}
	}
}

// WithPrincipal launches analysis as principal instead of the system
// principal.
func WithPrincipal(p store.Principal) Option {
	return func(l *Listener) {
		l.principal = p
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a listener for the database at connStr.
func NewListener(connStr string, launcher Launcher, opts ...Option) *Listener {
	l := &Listener{
		connStr:   connStr,
		channel:   DefaultChannel,
		principal: store.SystemPrincipal,
		launcher:  launcher,
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logging.Component("document_trigger"), logging.F("channel", l.channel))
	return l
}

// Run listens until ctx is cancelled. The connection is re-established by
// the driver when it drops.
func (l *Listener) Run(ctx context.Context) error {
	pl := pq.NewListener(l.connStr, minReconnectInterval, maxReconnectInterval, l.onEvent)
	defer pl.Close() // nolint: errcheck

	if err := pl.Listen(l.channel); err != nil {
		return fmt.Errorf("listening on %s: %w", l.channel, err)
	}
	l.logger.Info("Listening for document changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-pl.Notify:
			// nil after a reconnect; changes made meanwhile were missed.
			if n == nil {
				l.logger.Warn("Notification connection re-established, changes may have been missed")
				continue
			}
			l.Handle(ctx, n.Extra)
		case <-time.After(pingInterval):
			if err := pl.Ping(); err != nil {
				l.logger.Warn("Listener ping failed", logging.Err(err))
			}
		}
	}
}

func (l *Listener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("Listener connection attempt failed", logging.Err(err))
	case pq.ListenerEventDisconnected:
		l.logger.Warn("Listener disconnected", logging.Err(err))
	case pq.ListenerEventReconnected:
		l.logger.Info("Listener reconnected")
	}
}

// Handle processes one notification payload. Changed documents are queued
// for analysis. A deleted document has its progress entry cleared when the
// launcher supports it.
func (l *Listener) Handle(ctx context.Context, payload string) {
	n, err := ParseNotification(payload)
	if err != nil {
		l.logger.Warn("Ignoring notification", logging.F("payload", payload), logging.Err(err))
		return
	}
	key := n.Key()

	if n.Deleted {
		if c, ok := l.launcher.(Clearer); ok {
			c.ClearProgressStatus(key)
		}
		l.logger.Debug("Document deleted", logging.F("document", key.String()))
		return
	}

	if err := l.launcher.LaunchAnalysis(ctx, l.principal, key); err != nil {
		l.logger.Warn("Failed to launch analysis",
			logging.F("document", key.String()), logging.F("code", string(pferrors.CodeOf(err))), logging.Err(err))
		return
	}
	l.logger.Debug("Analysis launched", logging.F("document", key.String()))
}
