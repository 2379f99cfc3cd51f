// Package workerproc implements the child side of the subprocess strategy:
// it reads framed messages from the parent, builds one engine from the init
// message and answers every work item with exactly one result.
package workerproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/protocol"
)

// Server serves one parent connection.
type Server struct {
	registry *backend.Registry
	logger   *slog.Logger
}

// New creates a server that builds engines from reg.
func New(reg *backend.Registry, logger *slog.Logger) *Server {
	return &Server{
		registry: reg,
		logger:   logger.With("component", "workerproc"),
	}
}

// Serve runs the init handshake and then the work loop. It returns nil when
// the parent sends shutdown or closes r, and the engine is closed on return.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var init protocol.Message
	if err := protocol.ReadMessage(r, &init); err != nil {
		return fmt.Errorf("read init: %w", err)
	}
	if init.Type != protocol.MsgTypeInit || init.Init == nil {
		err := fmt.Errorf("expected %q message, got %q", protocol.MsgTypeInit, init.Type)
		s.sendError(w, err)
		return err
	}

	b, err := s.registry.New(*init.Init)
	if err != nil {
		s.sendError(w, err)
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			s.logger.Warn("close engine", "error", err)
		}
	}()

	if err := protocol.WriteMessage(w, &protocol.Message{Type: protocol.MsgTypeReady}); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}
	s.logger.Info("worker ready", "backend", init.Init.Name)

	for {
		var msg protocol.Message
		if err := protocol.ReadMessage(r, &msg); err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("parent closed connection")
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case protocol.MsgTypeShutdown:
			s.logger.Info("shutdown requested")
			return nil

		case protocol.MsgTypeWork:
			if msg.Work == nil {
				return fmt.Errorf("work message without item")
			}
			res := s.execute(ctx, b, msg.Work)
			if err := s.sendResult(w, res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}

		default:
			return fmt.Errorf("unexpected %q message", msg.Type)
		}
	}
}

// execute runs one item. Every failure, including a panic in the engine,
// becomes the Error of the result.
func (s *Server) execute(ctx context.Context, b backend.Backend, item *protocol.WorkItem) (res protocol.WorkResult) {
	res.JobID = item.JobID

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("engine panicked", "job_id", item.JobID, "panic", rec)
			res.Output = nil
			res.Error = fmt.Sprintf("engine panicked: %v", rec)
		}
	}()

	op, err := model.DecodeOperation(item.Operation)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	out, err := backend.Invoke(ctx, b, op)
	if err != nil {
		s.logger.Debug("job failed", "job_id", item.JobID, "kind", op.Kind(), "error", err)
		res.Error = err.Error()
		return res
	}

	res.Output = &out
	return res
}

// sendResult writes res. An output too large for one frame is replaced by an
// error result for the same job; nothing has been written at that point.
func (s *Server) sendResult(w io.Writer, res protocol.WorkResult) error {
	err := protocol.WriteMessage(w, &protocol.Message{Type: protocol.MsgTypeResult, Result: &res})
	if !errors.Is(err, protocol.ErrMessageTooLarge) {
		return err
	}

	s.logger.Warn("result too large", "job_id", res.JobID, "error", err)
	res = protocol.WorkResult{JobID: res.JobID, Error: fmt.Sprintf("result not sent: %v", err)}
	return protocol.WriteMessage(w, &protocol.Message{Type: protocol.MsgTypeResult, Result: &res})
}

func (s *Server) sendError(w io.Writer, err error) {
	if werr := protocol.WriteMessage(w, &protocol.Message{Type: protocol.MsgTypeError, Error: err.Error()}); werr != nil {
		s.logger.Error("write error message", "error", werr)
	}
}
