package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"rollup/internal/core"
)

// RollupCompletedMessage announces a stored run. It carries the run id and
// the headline numbers only; the worker loads the rows from the database.
type RollupCompletedMessage struct {
	RunID     string      `json:"run_id"`
	SessionID string      `json:"session_id"`
	Rows      int         `json:"rows"`
	HasDetail bool        `json:"has_detail"`
	Totals    core.Totals `json:"totals"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewRollupCompletedMessage builds the message for run.
func NewRollupCompletedMessage(run core.Run) *RollupCompletedMessage {
	return &RollupCompletedMessage{
		RunID:     run.ID,
		SessionID: run.SessionID,
		Rows:      len(run.Rows),
		HasDetail: run.HasDetail,
		Totals:    run.Totals,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RollupCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RollupCompletedMessageFromJSON decodes a message. A message without a run
// id is rejected.
func RollupCompletedMessageFromJSON(data []byte) (*RollupCompletedMessage, error) {
	var msg RollupCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RunID == "" {
		return nil, errors.New("message has no run id")
	}
	return &msg, nil
}
