package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// auditBufferSize bounds the number of entries waiting for the writer.
const auditBufferSize = 256

// AuditLog appends security-relevant actions to the store. Writes happen on
// a dedicated goroutine so request handlers never block on the database;
// Close drains the buffer before returning.
type AuditLog struct {
	db     *gorm.DB
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	closed  bool
	entries chan AuditEntry
	done    chan struct{}
}

// NewAuditLog creates an audit log and starts its writer goroutine.
func NewAuditLog(db *gorm.DB, logger *slog.Logger) *AuditLog {
	a := &AuditLog{
		db:      db,
		logger:  logger.With(slog.String("component", "audit_log")),
		clock:   time.Now,
		entries: make(chan AuditEntry, auditBufferSize),
		done:    make(chan struct{}),
	}
	go a.writer()
	return a
}

// EntryOption sets an optional field on an audit entry.
type EntryOption func(*AuditEntry)

// WithActor records who performed the action.
func WithActor(actor string) EntryOption {
	return func(e *AuditEntry) { e.Actor = actor }
}

// WithTarget records what the action was performed on, when it differs from
// the entity itself (an IP address, a file path).
func WithTarget(target string) EntryOption {
	return func(e *AuditEntry) { e.Target = target }
}

// WithDetails attaches free-form context to the entry.
func WithDetails(details string) EntryOption {
	return func(e *AuditEntry) { e.Details = details }
}

// Log enqueues an audit entry. Entries submitted after Close are dropped
// with a warning; nothing else is ever removed from the log.
func (a *AuditLog) Log(ctx context.Context, action, entityType, entityID string, success bool, opts ...EntryOption) {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Success:    success,
		CreatedAt:  a.clock().UTC(),
	}
	for _, opt := range opts {
		opt(&entry)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.WarnContext(ctx, "audit entry dropped after close",
			slog.String("action", action),
			slog.String("entity_id", entityID),
		)
		return
	}
	a.entries <- entry
}

// writer persists entries in arrival order until the channel is closed.
func (a *AuditLog) writer() {
	defer close(a.done)
	for entry := range a.entries {
		if err := a.db.Create(&entry).Error; err != nil {
			a.logger.Error("failed to persist audit entry",
				slog.String("action", entry.Action),
				slog.String("entity_id", entry.EntityID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops accepting entries and waits for buffered ones to be written.
func (a *AuditLog) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.entries)
	a.mu.Unlock()

	<-a.done
}

// Recent returns the most recent entries, newest first. Used by tests and
// operational inspection.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := a.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
