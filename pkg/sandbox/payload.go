package sandbox

import (
	"encoding/json"
	"io"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

// ResultDocument is the wire form of an ExecutionResult. Durations are
// seconds.
type ResultDocument struct {
	ExecutionID     string                   `json:"execution_id"`
	PID             int                      `json:"pid"`
	ExitCode        int                      `json:"exit_code"`
	Stdout          string                   `json:"stdout"`
	Stderr          string                   `json:"stderr"`
	StdoutTruncated bool                     `json:"stdout_truncated"`
	StderrTruncated bool                     `json:"stderr_truncated"`
	ExecutionTime   float64                  `json:"execution_time"`
	CPUTime         float64                  `json:"cpu_time"`
	TimedOut        bool                     `json:"timed_out"`
	Violation       resourcelimits.Violation `json:"violation"`
}

// ErrorDocument is the wire form of a failure that produced no result.
type ErrorDocument struct {
	Error       string `json:"error"`
	ErrorType   string `json:"error_type"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// Payload is the single JSON document printed for one execution: either a
// result or an error, never both.
type Payload struct {
	Result *ResultDocument
	Error  *ErrorDocument
}

// NewPayload builds the payload for an Execute return pair. A non-nil err
// always wins.
func NewPayload(result *ExecutionResult, err error) Payload {
	if err != nil {
		domainErr := errors.AsDomainError(err)
		document := &ErrorDocument{
			Error:     domainErr.Message,
			ErrorType: string(domainErr.Type),
		}
		if id, ok := domainErr.Context[contextExecutionID].(string); ok {
			document.ExecutionID = id
		}
		return Payload{Error: document}
	}
	if result == nil {
		return Payload{Error: &ErrorDocument{
			Error:     "no result produced",
			ErrorType: string(errors.ErrorTypeInternal),
		}}
	}
	return Payload{Result: &ResultDocument{
		ExecutionID:     result.ExecutionID,
		PID:             result.PID,
		ExitCode:        result.ExitCode,
		Stdout:          result.Stdout,
		Stderr:          result.Stderr,
		StdoutTruncated: result.StdoutTruncated,
		StderrTruncated: result.StderrTruncated,
		ExecutionTime:   result.WallClockDuration.Seconds(),
		CPUTime:         result.CPUTime.Seconds(),
		TimedOut:        result.TimedOut,
		Violation:       result.Violation,
	}}
}

func (p Payload) IsError() bool {
	return p.Error != nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Error != nil {
		return json.Marshal(p.Error)
	}
	return json.Marshal(p.Result)
}

// Encode writes the payload as indented JSON followed by a newline.
func (p Payload) Encode(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(p); err != nil {
		return errors.NewIOError("failed to write payload", err)
	}
	return nil
}
