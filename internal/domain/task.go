package domain

import (
	"encoding/json"
	"fmt"

	"filemesh/internal/codec"
)

// Task is a stored payload together with the id its queue entry refers to.
type Task struct {
	ID   string
	Data codec.Value
}

// Envelope decodes the conventional task envelope from the payload.
func (t Task) Envelope() (TaskData, error) {
	var td TaskData
	if err := t.Data.Into(&td); err != nil {
		return TaskData{}, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	return td, nil
}

// TaskData is what services push onto each other's queues.
type TaskData struct {
	InputChannel  string  `json:"input_channel"`
	OutputChannel string  `json:"output_channel,omitempty"`
	Payload       Payload `json:"payload"`
}

type Payload struct {
	User User            `json:"user"`
	Data json.RawMessage `json:"data"`
}

type User struct {
	ID string `json:"id"`
}

// Result is what a handler passes to its ready callback. A nil Err
// acknowledges the task.
type Result struct {
	Err error
}
