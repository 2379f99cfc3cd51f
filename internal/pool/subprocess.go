package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/protocol"
)

// Subprocess defaults.
const (
	DefaultStartTimeout    = 10 * time.Second
	DefaultStartAttempts   = 3
	DefaultRestartCooldown = 5 * time.Second
	DefaultStopGrace       = 3 * time.Second
)

// Subprocess runs each worker's engine in its own child process. The child
// (normally the tagpool-worker binary) speaks the protocol package framing on
// stdin/stdout and builds its engine from Backend.
type Subprocess struct {
	Path string
	Args []string

	// Env holds extra KEY=VALUE entries appended to this process's environment.
	Env []string

	Backend backend.Config

	// StartTimeout bounds the init handshake.
	StartTimeout time.Duration

	// StartAttempts is how many times a child is spawned, with exponential
	// backoff, before the worker gives up.
	StartAttempts uint

	// RestartCooldown is how long a worker that gave up fails jobs fast
	// before trying to spawn again.
	RestartCooldown time.Duration

	// Stderr receives the children's stderr. Nil means os.Stderr.
	Stderr io.Writer
}

func (s Subprocess) Name() string { return "subprocess" }

func (s Subprocess) validate() error {
	if s.Path == "" {
		return &ConfigError{Field: "path", Reason: "worker executable is required for subprocess strategy"}
	}
	if s.Backend.Name == "" {
		return &ConfigError{Field: "backend", Reason: "engine name is required"}
	}
	return nil
}

func (s Subprocess) isolated() bool { return true }

func (s Subprocess) newExecutor(workerID int, p *Pool) (executor, error) {
	e := &remoteExecutor{
		cfg:      s,
		workerID: workerID,
		logger:   p.logger.With("component", "worker", "worker_id", workerID),
		observe:  p.observe,
	}
	child, err := e.spawnWithRetry()
	if err != nil {
		return nil, err
	}
	e.child = child
	return e, nil
}

func (s Subprocess) startTimeout() time.Duration {
	if s.StartTimeout > 0 {
		return s.StartTimeout
	}
	return DefaultStartTimeout
}

func (s Subprocess) startAttempts() uint {
	if s.StartAttempts > 0 {
		return s.StartAttempts
	}
	return DefaultStartAttempts
}

func (s Subprocess) restartCooldown() time.Duration {
	if s.RestartCooldown > 0 {
		return s.RestartCooldown
	}
	return DefaultRestartCooldown
}

func (s Subprocess) stderr() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return os.Stderr
}

// remoteExecutor owns the child process of one worker. A child that dies is
// respawned before the next job; the job it was running fails.
type remoteExecutor struct {
	cfg      Subprocess
	workerID int
	logger   *slog.Logger
	observe  func(Event)

	child    *childProc
	gaveUp   error
	gaveUpAt time.Time
}

func (e *remoteExecutor) run(item workItem) resultItem {
	res := resultItem{jobID: item.jobID}

	if e.child == nil {
		if err := e.restart(); err != nil {
			res.err = err
			return res
		}
	}

	wi, err := protocol.NewWorkItem(item.jobID, item.op)
	if err != nil {
		res.err = err
		return res
	}

	wr, err := e.child.call(wi)
	if errors.Is(err, errNotSent) {
		// The child never saw the item and is still in step.
		res.err = err
		return res
	}
	if err != nil {
		e.logger.Warn("worker process lost", "job_id", item.jobID, "error", err)
		e.child.kill()
		e.child = nil
		res.err = fmt.Errorf("%w: %v", ErrWorkerExited, err)
		return res
	}

	// The router matches on the id the child reported.
	res.jobID = wr.JobID
	switch {
	case wr.Error != "":
		res.err = errors.New(wr.Error)
	case wr.Output != nil:
		res.output = *wr.Output
	}
	return res
}

// restart spawns a replacement child. After all attempts fail, jobs fail fast
// with ErrWorkerExited until the cooldown passes.
func (e *remoteExecutor) restart() error {
	if e.gaveUp != nil && time.Since(e.gaveUpAt) < e.cfg.restartCooldown() {
		return e.gaveUp
	}

	child, err := e.spawnWithRetry()
	if err != nil {
		e.gaveUp = fmt.Errorf("%w: restart failed: %v", ErrWorkerExited, err)
		e.gaveUpAt = time.Now()
		e.logger.Error("worker process restart failed", "error", err)
		return e.gaveUp
	}

	e.child = child
	e.gaveUp = nil
	e.observe(Event{Type: EventWorkerRestarted, Time: time.Now(), WorkerID: e.workerID})
	return nil
}

func (e *remoteExecutor) spawnWithRetry() (*childProc, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	return backoff.Retry(context.Background(), e.spawn,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(e.cfg.startAttempts()),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.Warn("worker process start failed, retrying", "error", err, "retry_in", next)
		}),
	)
}

func (e *remoteExecutor) spawn() (*childProc, error) {
	cmd := exec.Command(e.cfg.Path, e.cfg.Args...)
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Stderr = e.cfg.stderr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("start %s: %w", e.cfg.Path, err))
	}

	c := &childProc{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	if err := c.handshake(e.cfg.Backend, e.cfg.startTimeout()); err != nil {
		c.kill()
		return nil, err
	}

	e.logger.Debug("worker process ready", "pid", cmd.Process.Pid)
	return c, nil
}

func (e *remoteExecutor) close() error {
	if e.child == nil {
		return nil
	}
	err := e.child.stop(DefaultStopGrace)
	e.child = nil
	return err
}

// childProc is one running worker process.
type childProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func (c *childProc) handshake(cfg backend.Config, timeout time.Duration) error {
	if err := protocol.WriteMessage(c.stdin, &protocol.Message{Type: protocol.MsgTypeInit, Init: &cfg}); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	var msg protocol.Message
	reply := make(chan error, 1)
	go func() {
		reply <- protocol.ReadMessage(c.stdout, &msg)
	}()

	select {
	case err := <-reply:
		if err != nil {
			return fmt.Errorf("read init reply: %w", err)
		}
	case <-time.After(timeout):
		return fmt.Errorf("worker not ready after %s", timeout)
	}

	switch msg.Type {
	case protocol.MsgTypeReady:
		return nil
	case protocol.MsgTypeError:
		// The engine itself refused to start; retrying will not help.
		return backoff.Permanent(fmt.Errorf("worker init: %s", msg.Error))
	default:
		return fmt.Errorf("unexpected %q message during init", msg.Type)
	}
}

// errNotSent marks a work item refused before any byte reached the child.
var errNotSent = errors.New("work item not sent to worker process")

func (c *childProc) call(item protocol.WorkItem) (protocol.WorkResult, error) {
	if err := protocol.WriteMessage(c.stdin, &protocol.Message{Type: protocol.MsgTypeWork, Work: &item}); err != nil {
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			return protocol.WorkResult{}, fmt.Errorf("%w: %w", errNotSent, err)
		}
		return protocol.WorkResult{}, fmt.Errorf("send work: %w", err)
	}

	var msg protocol.Message
	if err := protocol.ReadMessage(c.stdout, &msg); err != nil {
		return protocol.WorkResult{}, fmt.Errorf("read result: %w", err)
	}
	if msg.Type != protocol.MsgTypeResult || msg.Result == nil {
		return protocol.WorkResult{}, fmt.Errorf("unexpected %q message", msg.Type)
	}
	return *msg.Result, nil
}

// stop asks the child to exit and kills it if it has not within grace.
func (c *childProc) stop(grace time.Duration) error {
	_ = protocol.WriteMessage(c.stdin, &protocol.Message{Type: protocol.MsgTypeShutdown})
	c.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("worker process exit: %w", err)
		}
		return nil
	case <-time.After(grace):
		c.cmd.Process.Kill()
		<-done
		return fmt.Errorf("worker process did not exit within %s, killed", grace)
	}
}

func (c *childProc) kill() {
	c.stdin.Close()
	c.cmd.Process.Kill()
	c.cmd.Wait()
}

var _ executor = (*remoteExecutor)(nil)
