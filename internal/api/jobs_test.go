package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
	"github.com/seantiz/tagpool/internal/store"
)

func TestSubmitJobValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"kind":"tag_text","args":{"text":"The cat sat.","options":{"tagblanks":true}}}`
	resp, err := http.Post(ts.URL+"/v1/jobs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var got submitJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(got.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(got.ID))
	}
	if got.Kind != model.KindTagText {
		t.Errorf("Kind = %q, want %q", got.Kind, model.KindTagText)
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/jobs/"+got.ID {
		t.Errorf("Location = %q, want %q", loc, "/v1/jobs/"+got.ID)
	}
	if got.SubmittedAt.IsZero() {
		t.Error("SubmittedAt is zero")
	}
}

func TestSubmitJobRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing kind", `{"args":{"text":"x"}}`},
		{"unknown kind", `{"kind":"translate","args":{}}`},
		{"file without path", `{"kind":"tag_file","args":{}}`},
		{"file_to without output", `{"kind":"tag_file_to","args":{"in_path":"/tmp/in.txt"}}`},
		{"args of wrong shape", `{"kind":"tag_text","args":[1,2]}`},
	}

	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/jobs", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestSubmitJobPoolStopped(t *testing.T) {
	srv := newTestServer(t)
	srv.pool.Stop()

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/jobs", "application/json",
		bytes.NewBufferString(`{"kind":"tag_text","args":{"text":"x"}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGetJobExisting(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submit(t, ts.URL, `{"kind":"tag_text","args":{"text":"hello"}}`)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec model.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != job.ID {
		t.Errorf("ID = %q, want %q", rec.ID, job.ID)
	}
	if rec.Kind != model.KindTagText {
		t.Errorf("Kind = %q, want %q", rec.Kind, model.KindTagText)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListJobsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body listJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if body.Total != 0 {
		t.Errorf("total = %d, want 0", body.Total)
	}
	if body.Jobs == nil {
		t.Error("jobs should be an empty array, not null")
	}
	if body.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, defaultListLimit)
	}
}

func TestListJobsPagination(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := range 5 {
		job := submit(t, ts.URL, fmt.Sprintf(`{"kind":"tag_text","args":{"text":"job %d"}}`, i))
		if live, ok := srv.jobs.get(job.ID); ok {
			live.Wait()
		}
	}

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=2&offset=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body listJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if body.Total != 5 {
		t.Errorf("total = %d, want 5", body.Total)
	}
	if len(body.Jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(body.Jobs))
	}
	if body.Offset != 1 {
		t.Errorf("offset = %d, want 1", body.Offset)
	}
}

func TestListJobsLimitClamped(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=5000&offset=-3")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body listJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, defaultListLimit)
	}
	if body.Offset != 0 {
		t.Errorf("offset = %d, want 0", body.Offset)
	}
}

func TestGetJobBeforeJournalWrite(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	release := make(chan struct{})
	reg := backend.NewRegistry()
	reg.Register(gateBackendName, func(backend.Config) (backend.Backend, error) {
		return &gateBackend{release: release}, nil
	})

	// No journal attached: the record only exists as a live handle.
	p, err := pool.New(pool.InProcess{Registry: reg, Backend: backend.Config{Name: gateBackendName}}, pool.WithWorkers(1))
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	defer p.Stop()
	defer close(release)

	srv := NewServer(":0", s, reg, p, pool.NewBroker(), time.Minute, slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submit(t, ts.URL, `{"kind":"tag_text","args":{"text":"a"}}`)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec model.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != job.ID || rec.Status != model.StatusPending || rec.Kind != model.KindTagText {
		t.Errorf("record = %+v, want pending tag_text %s", rec, job.ID)
	}
}
