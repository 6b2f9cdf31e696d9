package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ProtocolVersion is the request envelope version sent to engine commands.
const ProtocolVersion = 1

// Target names the resource a job acts on.
type Target struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Request is the envelope written to the engine command's stdin.
type Request struct {
	Protocol    int             `json:"protocol"`
	JobID       string          `json:"job_id"`
	UpdateID    string          `json:"update_id"`
	Operation   string          `json:"operation"`
	Target      Target          `json:"target"`
	Params      json.RawMessage `json:"params,omitempty"`
	SubmittedBy string          `json:"submitted_by"`
	DeadlineAt  time.Time       `json:"deadline_at"`
}

// Response is the envelope read from the engine command's stdout.
type Response struct {
	Status string     `json:"status"` // ok | error
	Error  string     `json:"error,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

// LogEntry is a log line reported by the engine command.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeResponse reads a Response from r. The raw bytes are returned so
// callers can log unparseable output.
func DecodeResponse(r io.Reader) (*Response, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, data, fmt.Errorf("engine produced no output on stdout")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, data, fmt.Errorf("engine output is not valid JSON: %w", err)
	}

	switch resp.Status {
	case "":
		return nil, data, fmt.Errorf("response missing required field: status")
	case "ok":
	case "error":
		if resp.Error == "" {
			return nil, data, fmt.Errorf("response has status=error but no error message")
		}
	default:
		return nil, data, fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}

	return &resp, data, nil
}
