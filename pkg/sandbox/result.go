package sandbox

import (
	"encoding/json"
	"time"
)

// Result is the outcome of a sandbox operation. It is either a [Success] or
// a [Failure]; no other implementations exist.
type Result interface {
	// Elapsed is the wall-clock duration of the operation.
	Elapsed() time.Duration
	isResult()
}

// Success carries the captured output of a completed operation.
type Success struct {
	Output        string
	ExecutionTime time.Duration
}

// Failure carries a human-readable error message.
type Failure struct {
	Message       string
	ExecutionTime time.Duration
}

func (s Success) Elapsed() time.Duration { return s.ExecutionTime }
func (f Failure) Elapsed() time.Duration { return f.ExecutionTime }

func (Success) isResult() {}
func (Failure) isResult() {}

// Succeeded reports whether r is a Success.
func Succeeded(r Result) bool {
	_, ok := r.(Success)
	return ok
}

// ResultJSON is the stable wire shape of a Result. ExecutionTime is in
// milliseconds.
type ResultJSON struct {
	Success       bool   `json:"success"`
	Output        string `json:"output,omitempty"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTime"`
}

// Wire converts r to its wire shape.
func Wire(r Result) ResultJSON {
	switch v := r.(type) {
	case Success:
		return ResultJSON{Success: true, Output: v.Output, ExecutionTime: v.ExecutionTime.Milliseconds()}
	case Failure:
		return ResultJSON{Success: false, Error: v.Message, ExecutionTime: v.ExecutionTime.Milliseconds()}
	}
	return ResultJSON{Error: "unknown result"}
}

// MarshalJSON encodes the success variant in its wire shape.
func (s Success) MarshalJSON() ([]byte, error) { return json.Marshal(Wire(s)) }

// MarshalJSON encodes the failure variant in its wire shape.
func (f Failure) MarshalJSON() ([]byte, error) { return json.Marshal(Wire(f)) }

// FromWire converts a decoded wire shape back into a Result.
func FromWire(w ResultJSON) Result {
	d := time.Duration(w.ExecutionTime) * time.Millisecond
	if w.Success {
		return Success{Output: w.Output, ExecutionTime: d}
	}
	return Failure{Message: w.Error, ExecutionTime: d}
}
