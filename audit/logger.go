package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banksync/core"
	"github.com/google/uuid"
)

// Sink receives audit entries. The logger awaits the sink write before
// returning, so callers can assert on emitted history immediately.
type Sink interface {
	Write(ctx context.Context, entry core.AuditEntry) error
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithIDGenerator(nextID func() string) Option {
	return func(l *Logger) {
		if nextID != nil {
			l.nextID = nextID
		}
	}
}

// Logger appends immutable entries to a sink. Ids and timestamps come
// from injectable generators for deterministic tests.
type Logger struct {
	sink   Sink
	now    func() time.Time
	nextID func() string
}

func NewLogger(sink Sink, opts ...Option) (*Logger, error) {
	if sink == nil {
		return nil, fmt.Errorf("audit: sink is required")
	}
	logger := &Logger{
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		nextID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(logger)
	}
	return logger, nil
}

type EntryOption func(*core.AuditEntry)

func WithProvider(provider core.Provider) EntryOption {
	return func(entry *core.AuditEntry) {
		entry.Provider = provider
	}
}

func WithConnection(connectionExternalID string) EntryOption {
	return func(entry *core.AuditEntry) {
		entry.ConnectionExternalID = strings.TrimSpace(connectionExternalID)
	}
}

func WithMetadata(metadata map[string]any) EntryOption {
	return func(entry *core.AuditEntry) {
		if len(metadata) == 0 {
			return
		}
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]any, len(metadata))
		}
		for key, value := range metadata {
			entry.Metadata[key] = value
		}
	}
}

func (l *Logger) Log(
	ctx context.Context,
	level core.AuditLevel,
	action core.AuditAction,
	message string,
	opts ...EntryOption,
) (core.AuditEntry, error) {
	if l == nil || l.sink == nil {
		return core.AuditEntry{}, fmt.Errorf("audit: logger requires a sink")
	}
	entry := core.AuditEntry{
		ID:        l.nextID(),
		Timestamp: l.now(),
		Level:     level,
		Action:    action,
		Message:   strings.TrimSpace(message),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&entry)
	}
	if err := l.sink.Write(ctx, entry); err != nil {
		return core.AuditEntry{}, fmt.Errorf("audit: sink write: %w", err)
	}
	return entry, nil
}

func (l *Logger) Info(ctx context.Context, action core.AuditAction, message string, opts ...EntryOption) (core.AuditEntry, error) {
	return l.Log(ctx, core.AuditLevelInfo, action, message, opts...)
}

func (l *Logger) Warning(ctx context.Context, action core.AuditAction, message string, opts ...EntryOption) (core.AuditEntry, error) {
	return l.Log(ctx, core.AuditLevelWarning, action, message, opts...)
}

func (l *Logger) Error(ctx context.Context, action core.AuditAction, message string, opts ...EntryOption) (core.AuditEntry, error) {
	return l.Log(ctx, core.AuditLevelError, action, message, opts...)
}
