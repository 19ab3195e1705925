package domain

import (
	"encoding/json"
	"fmt"
)

// Message is the pub/sub envelope. Data usually carries "_id", the id of the
// task being answered.
type Message struct {
	User          User            `json:"user"`
	Data          json.RawMessage `json:"data"`
	Type          string          `json:"type"`
	IDs           []string        `json:"ids,omitempty"`
	SendToHimself bool            `json:"send_to_himself,omitempty"`
}

type replyHeader struct {
	ID      string          `json:"_id"`
	Error   json.RawMessage `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (m Message) header() replyHeader {
	var h replyHeader
	_ = json.Unmarshal(m.Data, &h)
	return h
}

// CorrelationID returns data._id, or "" when absent.
func (m Message) CorrelationID() string {
	return m.header().ID
}

// Err returns a *ReplyError when data carries an error field.
func (m Message) Err() error {
	h := m.header()
	if len(h.Error) == 0 || string(h.Error) == "null" || string(h.Error) == "false" {
		return nil
	}
	return &ReplyError{TaskID: h.ID, Code: h.Error, Message: h.Message}
}

// ReplyError is a failure reported by a remote service.
type ReplyError struct {
	TaskID  string
	Code    json.RawMessage
	Message string
}

func (e *ReplyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Code)
	}
	return fmt.Sprintf("task %s failed: %s (%s)", e.TaskID, e.Message, e.Code)
}
