// Package protocol defines the framed JSON messages exchanged between the
// pool and its isolated worker processes over stdin/stdout.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/model"
)

// MaxMessageSize is the maximum allowed message payload (16 MiB).
const MaxMessageSize = 16 << 20

// ErrMessageTooLarge is returned for a frame whose payload exceeds
// MaxMessageSize. WriteMessage checks the size before writing anything, so
// the stream stays usable after it fails this way.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// Host→worker message types.
const (
	MsgTypeInit     = "init"
	MsgTypeWork     = "work"
	MsgTypeShutdown = "shutdown"
)

// Worker→host message types.
const (
	MsgTypeReady  = "ready"
	MsgTypeResult = "result"
	MsgTypeError  = "error"
)

// WorkItem is one job as seen by a worker process: the job id and the
// serialized operation. It never carries anything but plain data.
type WorkItem struct {
	JobID     string         `json:"job_id"`
	Operation model.Envelope `json:"operation"`
}

// WorkResult reports the outcome of one WorkItem. Exactly one of Output and
// Error is set.
type WorkResult struct {
	JobID  string        `json:"job_id"`
	Output *model.Output `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Message is the envelope for every frame in both directions.
//
// The host opens with Type="init" carrying the engine config; the worker
// answers "ready" or "error". Each "work" frame is answered by exactly one
// "result" frame with the same job id. "shutdown" asks the worker to close its
// engine and exit.
type Message struct {
	Type   string          `json:"type"`
	Init   *backend.Config `json:"init,omitempty"`
	Work   *WorkItem       `json:"work,omitempty"`
	Result *WorkResult     `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewWorkItem serializes op into a WorkItem for jobID.
func NewWorkItem(jobID string, op model.Operation) (WorkItem, error) {
	env, err := model.EncodeOperation(op)
	if err != nil {
		return WorkItem{}, err
	}
	return WorkItem{JobID: jobID, Operation: env}, nil
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
// A clean end of stream before the length prefix is returned as io.EOF.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}
