package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/backend/builtin"
	"github.com/seantiz/tagpool/internal/backend/echo"
	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
	"github.com/seantiz/tagpool/internal/store"
)

const gateBackendName = "gate"

// gateBackend holds every Tag call until release is closed.
type gateBackend struct {
	release chan struct{}
}

func (g *gateBackend) Tag(ctx context.Context, text string, _ model.Options) ([]string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return strings.Fields(text), nil
}

func (g *gateBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: gateBackendName}
}

func (g *gateBackend) Close() error { return nil }

type testServer struct {
	*Server
	release chan struct{}
}

// newTestServer builds a server over an in-memory store and a two-worker
// in-process pool running the named backend. The gate backend is always
// registered; close ts.release to let its jobs finish.
func newTestServerWith(t *testing.T, backendName string) *testServer {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	release := make(chan struct{})
	reg := builtin.NewRegistry()
	reg.Register(gateBackendName, func(backend.Config) (backend.Backend, error) {
		return &gateBackend{release: release}, nil
	})

	broker := pool.NewBroker()
	journal := store.NewJournal(s, logger)
	p, err := pool.New(
		pool.InProcess{Registry: reg, Backend: backend.Config{Name: backendName}},
		pool.WithWorkers(2),
		pool.WithObserver(pool.Observers(journal, broker)),
	)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}

	ts := &testServer{
		Server:  NewServer(":0", s, reg, p, broker, time.Minute, logger),
		release: release,
	}
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		p.Stop()
		journal.Close()
	})
	return ts
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, echo.Name)
}

// submit posts a job and returns the decoded response.
func submit(t *testing.T, baseURL, body string) submitJobResponse {
	t.Helper()
	resp, err := http.Post(baseURL+"/v1/jobs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202: %s", resp.StatusCode, data)
	}

	var out submitJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return out
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestListBackends(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/backends")
	if err != nil {
		t.Fatalf("GET /v1/backends: %v", err)
	}
	defer resp.Body.Close()

	var body backendsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"echo", "gate", "treetagger"}
	if strings.Join(body.Backends, ",") != strings.Join(want, ",") {
		t.Errorf("backends = %v, want %v", body.Backends, want)
	}
}

func TestSweepReleasesExpiredResults(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submit(t, ts.URL, `{"kind":"tag_text","args":{"text":"a b"}}`)
	live, ok := srv.jobs.get(job.ID)
	if !ok {
		t.Fatal("submitted job not held")
	}
	live.Wait()

	now := time.Now()
	srv.sweep(context.Background(), now)
	if srv.jobs.len() != 1 {
		t.Fatalf("held = %d after first sweep, want 1", srv.jobs.len())
	}

	srv.sweep(context.Background(), now.Add(srv.retention))
	if srv.jobs.len() != 0 {
		t.Errorf("held = %d after retention, want 0", srv.jobs.len())
	}

	resp, err := http.Get(ts.URL + "/v1/jobs/" + job.ID + "/result")
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("status = %d, want 410", resp.StatusCode)
	}
}

func TestSweepKeepsRunningJobs(t *testing.T) {
	srv := newTestServerWith(t, gateBackendName)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	submit(t, ts.URL, `{"kind":"tag_text","args":{"text":"a b"}}`)

	srv.sweep(context.Background(), time.Now().Add(24*time.Hour))
	if srv.jobs.len() != 1 {
		t.Errorf("held = %d, want the unfinished job kept", srv.jobs.len())
	}
}

func TestSweepIntervalFloor(t *testing.T) {
	if got := sweepInterval(time.Second); got != time.Second {
		t.Errorf("sweepInterval(1s) = %v, want 1s", got)
	}
	if got := sweepInterval(time.Minute); got != 15*time.Second {
		t.Errorf("sweepInterval(1m) = %v, want 15s", got)
	}
}
