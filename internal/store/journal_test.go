package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/backend/builtin"
	"github.com/seantiz/tagpool/internal/backend/echo"
	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
)

func TestJournalRecordsPoolJobs(t *testing.T) {
	s := newTestStore(t)
	journal := NewJournal(s, slog.New(slog.DiscardHandler))
	defer journal.Close()

	p, err := pool.New(
		pool.InProcess{Registry: builtin.NewRegistry(), Backend: backend.Config{Name: echo.Name}},
		pool.WithWorkers(2),
		pool.WithObserver(journal),
	)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	defer p.Stop()

	ok, err := p.TagText("The cat sat.", model.Options{})
	if err != nil {
		t.Fatalf("TagText: %v", err)
	}
	bad, err := p.TagFile("/no/such/file.txt", "", model.Options{})
	if err != nil {
		t.Fatalf("TagFile: %v", err)
	}
	ok.Wait()
	bad.Wait()

	ctx := context.Background()
	got, err := s.GetJob(ctx, ok.ID())
	if err != nil {
		t.Fatalf("GetJob(ok): %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusCompleted)
	}
	if got.Kind != model.KindTagText {
		t.Errorf("Kind = %q, want %q", got.Kind, model.KindTagText)
	}
	if got.WorkerID == nil {
		t.Error("WorkerID not recorded")
	}
	out, _ := ok.Result()
	if got.LineCount == nil || *got.LineCount != len(out.Lines) {
		t.Errorf("LineCount = %v, want %d", got.LineCount, len(out.Lines))
	}

	got, err = s.GetJob(ctx, bad.ID())
	if err != nil {
		t.Fatalf("GetJob(bad): %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusFailed)
	}
	if got.Error == "" {
		t.Error("expected error message on failed job")
	}
}

func TestJournalIgnoresPoolEvents(t *testing.T) {
	s := newTestStore(t)
	journal := NewJournal(s, slog.New(slog.DiscardHandler))
	defer journal.Close()

	journal.Observe(pool.Event{Type: pool.EventPoolStopping, WorkerID: pool.NoWorker, Time: time.Now()})
	journal.Observe(pool.Event{Type: pool.EventWorkerStarted, WorkerID: 0, Time: time.Now()})
	journal.Flush()

	_, total, err := s.ListJobs(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

type failingStore struct {
	Store
}

func (failingStore) MarkStarted(context.Context, string, int, time.Time) error {
	return errors.New("disk full")
}

func TestJournalLogsWriteErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	journal := NewJournal(failingStore{Store: newTestStore(t)}, logger)
	defer journal.Close()

	journal.Observe(pool.Event{Type: pool.EventJobStarted, JobID: "j1", WorkerID: 0, Time: time.Now()})
	journal.Flush()

	if !strings.Contains(buf.String(), "disk full") {
		t.Errorf("log output = %q, want it to mention the store error", buf.String())
	}
}

// gatedStore holds every CreateJob until release is closed.
type gatedStore struct {
	Store
	release chan struct{}
}

func (g gatedStore) CreateJob(ctx context.Context, rec *model.JobRecord) error {
	<-g.release
	return g.Store.CreateJob(ctx, rec)
}

func TestJournalSubmitDoesNotWaitForStore(t *testing.T) {
	s := newTestStore(t)
	release := make(chan struct{})
	journal := NewJournal(gatedStore{Store: s, release: release}, slog.New(slog.DiscardHandler))
	defer journal.Close()

	p, err := pool.New(
		pool.InProcess{Registry: builtin.NewRegistry(), Backend: backend.Config{Name: echo.Name}},
		pool.WithWorkers(1),
		pool.WithObserver(journal),
	)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	defer p.Stop()

	submitted := make(chan *pool.Job, 1)
	go func() {
		j, _ := p.TagText("a b", model.Options{})
		submitted <- j
	}()

	var job *pool.Job
	select {
	case job = <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked on the journal store")
	}

	close(release)
	job.Wait()

	got, err := s.GetJob(context.Background(), job.ID())
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q once the job finished, want %q", got.Status, model.StatusCompleted)
	}
}

func TestJournalCloseWritesQueuedEvents(t *testing.T) {
	s := newTestStore(t)
	journal := NewJournal(s, slog.New(slog.DiscardHandler))

	for _, id := range []string{"j1", "j2", "j3"} {
		journal.Observe(pool.Event{Type: pool.EventJobSubmitted, JobID: id, Kind: model.KindTagText, WorkerID: pool.NoWorker, Time: time.Now()})
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_, total, err := s.ListJobs(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d after Close, want 3", total)
	}

	// Events after Close are written in line.
	journal.Observe(pool.Event{Type: pool.EventJobSubmitted, JobID: "j4", Kind: model.KindTagText, WorkerID: pool.NoWorker, Time: time.Now()})
	if _, err := s.GetJob(context.Background(), "j4"); err != nil {
		t.Errorf("GetJob(j4) after Close: %v", err)
	}
}
