package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-banksync/core"
	glog "github.com/goliatone/go-logger/glog"
)

// MemorySink accumulates entries in order. Used by tests and as the
// default sink for dev assemblies.
type MemorySink struct {
	mu      sync.RWMutex
	entries []core.AuditEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, entry core.AuditEntry) error {
	if s == nil {
		return fmt.Errorf("audit: sink is nil")
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Entries() []core.AuditEntry {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.AuditEntry(nil), s.entries...)
}

// LoggerSink forwards audit entries to a structured logger.
type LoggerSink struct {
	logger core.Logger
}

func NewLoggerSink(logger core.Logger) *LoggerSink {
	return &LoggerSink{logger: glog.Ensure(logger)}
}

func (s *LoggerSink) Write(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.logger == nil {
		return fmt.Errorf("audit: sink is nil")
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(map[string]any{
			"audit_id":               entry.ID,
			"action":                 string(entry.Action),
			"provider":               string(entry.Provider),
			"connection_external_id": entry.ConnectionExternalID,
		})
	}
	switch entry.Level {
	case core.AuditLevelError:
		logger.Error(entry.Message)
	case core.AuditLevelWarning:
		logger.Warn(entry.Message)
	default:
		logger.Info(entry.Message)
	}
	return nil
}

// FanoutSink writes the same entry to every sink, stopping at the
// first failure so callers never see a partially acknowledged write.
type FanoutSink struct {
	sinks []Sink
}

func NewFanoutSink(sinks ...Sink) *FanoutSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		filtered = append(filtered, sink)
	}
	return &FanoutSink{sinks: filtered}
}

func (s *FanoutSink) Write(ctx context.Context, entry core.AuditEntry) error {
	if s == nil {
		return fmt.Errorf("audit: sink is nil")
	}
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Sink = (*MemorySink)(nil)
	_ Sink = (*LoggerSink)(nil)
	_ Sink = (*FanoutSink)(nil)
)
