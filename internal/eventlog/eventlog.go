package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of interview session event
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventProviderConnected EventType = "provider_connected"
	EventProviderError     EventType = "provider_error"
	EventSessionEnded      EventType = "session_ended"
	EventRoomCompleted     EventType = "room_completed"
	EventReportRequested   EventType = "report_requested"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, attemptID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || attemptID == "" {
		return nil // Silently skip if no DB or attempt ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO interview_events (attempt_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, attemptID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(attemptID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || attemptID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, attemptID, eventType, data)
	}()
}
