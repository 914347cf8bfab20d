package audit

import (
	"context"
	"encoding/json"
	"time"

	"athenaeum.org/internal/obs"
)

// Event is a single activity-log record.
type Event struct {
	Time    time.Time         `json:"ts"`
	Event   string            `json:"event"`
	ActorID string            `json:"actor_id,omitempty"`
	IP      string            `json:"ip,omitempty"`
	Success bool              `json:"success"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Sink receives dispatched events. Implementations must not panic; a
// failing sink loses the event and nothing else.
type Sink interface {
	Write(ctx context.Context, e Event)
}

// LogSink writes events as JSON lines through the shared logger.
type LogSink struct{}

func (LogSink) Write(_ context.Context, e Event) {
	entry := struct {
		Type string `json:"type"`
		Event
	}{Type: "audit", Event: e}
	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Println(`{"level":"error","msg":"audit marshal failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}
