// Package treetagger drives an external TreeTagger-compatible process. One
// process is started per Backend and kept alive across requests; texts are
// written to its stdin one token per line and its stdout is read back until
// the request's end marker appears.
//
// The process must echo SGML tags unchanged (TreeTagger's -sgml flag) and
// must not block-buffer its output when writing to a pipe.
package treetagger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/model"
)

// Name is the registry name of the treetagger engine.
const Name = "treetagger"

// MarkerPrefix starts the end marker appended to every request. Each marker
// carries a fresh id and only its exact echo terminates the response. Input
// tokens that start with MarkerPrefix are escaped before they are written.
const MarkerPrefix = "<tagpool-eot"

// CloseGrace is how long Close waits for the process to exit on its own
// after stdin is closed before killing it.
const CloseGrace = 3 * time.Second

// lineBufferSize is the channel buffer between the stdout reader and Tag.
const lineBufferSize = 256

// maxLineSize bounds one line of tagger output.
const maxLineSize = 1 << 20

// Backend is one running tagger process.
type Backend struct {
	cfg    backend.Config
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	lines      chan string
	readerDone chan struct{}
	readErr    error // set before lines is closed

	mu     sync.Mutex // serializes requests
	broken error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ backend.Backend = (*Backend)(nil)

// New is the backend.Factory for the treetagger engine. It starts the
// process described by cfg.Bin and cfg.Args.
func New(cfg backend.Config) (backend.Backend, error) {
	if cfg.Bin == "" {
		return nil, fmt.Errorf("treetagger: tagger binary is required")
	}

	cmd := exec.Command(cfg.Bin, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tagger %s: %w", cfg.Bin, err)
	}
	processStarts.Inc()
	activeProcesses.Inc()

	b := &Backend{
		cfg:        cfg,
		cmd:        cmd,
		stdin:      stdin,
		stderr:     stderr,
		lines:      make(chan string, lineBufferSize),
		readerDone: make(chan struct{}),
	}
	go b.readLines(stdout)
	return b, nil
}

func (b *Backend) readLines(stdout io.Reader) {
	defer close(b.readerDone)
	defer close(b.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		b.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		b.readErr = err
		// Keep the pipe drained so the process can still exit on Close.
		io.Copy(io.Discard, stdout)
	}
}

func endMarker() string {
	return MarkerPrefix + ` id="` + model.NewID() + `"/>`
}

// Tag sends the tokens of text to the process and collects the tagged lines.
// With PrepOnly the tokens are returned without contacting the process.
//
// If ctx ends mid-request the process output is no longer in step with
// requests, so the backend is marked broken and every later call fails.
func (b *Backend) Tag(ctx context.Context, text string, opts model.Options) ([]string, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("%w: %w", backend.ErrEngine, backend.ErrClosed)
	}

	tokens := backend.Tokenize(text, opts)
	if opts.PrepOnly {
		return tokens, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken != nil {
		return nil, b.broken
	}

	marker := endMarker()
	var payload strings.Builder
	for _, tok := range tokens {
		if strings.HasPrefix(tok, MarkerPrefix) {
			tok = "&lt;" + tok[1:]
		}
		payload.WriteString(tok)
		payload.WriteByte('\n')
	}
	payload.WriteString(marker)
	payload.WriteByte('\n')

	start := time.Now()

	// Write concurrently with reading: a large text can fill both pipes.
	writeErr := make(chan error, 1)
	go func() {
		_, err := io.WriteString(b.stdin, payload.String())
		writeErr <- err
	}()

	out := make([]string, 0, len(tokens))
	for {
		select {
		case err := <-writeErr:
			if err != nil {
				return nil, b.fail(fmt.Errorf("%w: write to tagger: %v", backend.ErrEngine, err))
			}
			writeErr = nil

		case line, ok := <-b.lines:
			if !ok {
				if b.readErr != nil {
					return nil, b.fail(fmt.Errorf("%w: read tagger output: %w", backend.ErrEngine, b.readErr))
				}
				return nil, b.fail(fmt.Errorf("%w: tagger process exited%s", backend.ErrEngine, b.stderr.suffix()))
			}
			if strings.TrimRight(line, " \t\r") == marker {
				requestDuration.Observe(time.Since(start).Seconds())
				requestsTotal.WithLabelValues(statusOK).Inc()
				return out, nil
			}
			out = append(out, line)

		case <-ctx.Done():
			b.fail(fmt.Errorf("%w: tagger abandoned mid-request", backend.ErrEngine))
			return nil, ctx.Err()
		}
	}
}

// fail records err as the permanent state of the backend. Callers hold mu.
func (b *Backend) fail(err error) error {
	b.broken = err
	requestsTotal.WithLabelValues(statusError).Inc()
	return err
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: Name, Lang: b.cfg.Lang, External: true}
}

// Close closes the process stdin, waits up to CloseGrace for it to exit and
// kills it otherwise.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.closeErr = b.shutdown()
	})
	return b.closeErr
}

func (b *Backend) shutdown() error {
	defer activeProcesses.Dec()

	b.stdin.Close()

	// Unblock the reader if nobody consumes the remaining output.
	go func() {
		for range b.lines {
		}
	}()

	killed := false
	select {
	case <-b.readerDone:
	case <-time.After(CloseGrace):
		killed = true
		if err := b.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill tagger: %w", err)
		}
		<-b.readerDone
	}

	err := b.cmd.Wait()
	if err != nil && !killed {
		return fmt.Errorf("wait tagger: %w", err)
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it. It is used as the
// process stderr so failures can carry the tagger's last complaint.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) suffix() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := strings.TrimSpace(string(t.buf))
	if s == "" {
		return ""
	}
	return ": " + s
}
