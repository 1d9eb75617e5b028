package logger

import (
	"context"
	"time"
)

// EventStore is the narrow persistence surface a log archive needs.
// Satisfied by *archive.Store.
type EventStore interface {
	SaveEvent(ctx context.Context, correlationID, level, component, message string, metadata map[string]interface{}) error
}

// WithArchive returns a copy of the logger that also mirrors every
// Infow/Warnw/Errorw call into store, tagged with runID, so the lines
// survive process restarts alongside the interactions they describe.
// A nil store makes this a no-op (the returned logger behaves exactly
// like l).
func (l *Logger) WithArchive(store EventStore, runID string) *Logger {
	newLogger := *l
	newLogger.archive = store
	newLogger.runID = runID
	return &newLogger
}

// Infow logs and, if archiving is enabled, persists the event too.
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
	l.persistEvent("info", msg, keysAndValues)
}

// Warnw logs and, if archiving is enabled, persists the event too.
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
	l.persistEvent("warning", msg, keysAndValues)
}

// Errorw logs and, if archiving is enabled, persists the event too.
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
	l.persistEvent("error", msg, keysAndValues)
}

func (l *Logger) persistEvent(level, msg string, keysAndValues []interface{}) {
	if l.archive == nil {
		return
	}

	metadata := extractMetadata(keysAndValues)
	component := extractComponent(keysAndValues)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.archive.SaveEvent(ctx, l.runID, level, component, msg, metadata); err != nil {
			l.SugaredLogger.Errorw("failed to persist event to archive",
				"error", err,
				"run_id", l.runID,
				"component", component,
				"message", msg,
			)
		}
	}()
}

func extractMetadata(keysAndValues []interface{}) map[string]interface{} {
	metadata := make(map[string]interface{})

	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok && key != "component" {
			metadata[key] = keysAndValues[i+1]
		}
	}

	return metadata
}

func extractComponent(keysAndValues []interface{}) string {
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok && key == "component" {
			if component, ok := keysAndValues[i+1].(string); ok {
				return component
			}
		}
	}
	return "engine"
}
