package amqp

import (
	"encoding/json"
	"time"
)

// InsightJobMessage tells a worker that an analysis job is waiting.
// It carries only the job id; the worker reads everything else from
// the database so a stale message can never overwrite newer state.
type InsightJobMessage struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewInsightJobMessage(id int64) *InsightJobMessage {
	return &InsightJobMessage{
		ID:        id,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *InsightJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InsightJobMessageFromJSON creates a message from JSON bytes
func InsightJobMessageFromJSON(data []byte) (*InsightJobMessage, error) {
	var msg InsightJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
