package clients

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a sibling service reports an unknown entity.
var ErrNotFound = errors.New("entity not found")

// Result is the boundary type returned by sibling-service calls. The caller
// decides what a failure means; transport errors never propagate as Go
// errors past an adapter built on this type.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Ok wraps a successful payload
func Ok(data json.RawMessage) Result {
	return Result{Success: true, Data: data}
}

// Fail wraps a failure message
func Fail(err error) Result {
	if err == nil {
		return Result{Success: false, Error: "unknown error"}
	}
	return Result{Success: false, Error: err.Error()}
}
