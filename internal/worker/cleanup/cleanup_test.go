package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type mockCachePurger struct {
	calls atomic.Int32
	n     int64
}

func (m *mockCachePurger) PurgeStale(ctx context.Context) int64 {
	m.calls.Add(1)
	return m.n
}

type mockArchivePurger struct {
	calls atomic.Int32
	n     int
}

func (m *mockArchivePurger) PurgeOtherVersions() int {
	m.calls.Add(1)
	return m.n
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestCleanupJob_Run_PurgesBothTargets(t *testing.T) {
	var buf bytes.Buffer
	c := &mockCachePurger{n: 12}
	a := &mockArchivePurger{n: 2}

	res := NewCleanupJob(c, a, newTestLogger(&buf)).Run(context.Background())

	if res.CacheEntries != 12 || res.ArchiveFiles != 2 {
		t.Errorf("result = %+v, want 12 entries / 2 files", res)
	}
	if c.calls.Load() != 1 || a.calls.Load() != 1 {
		t.Errorf("calls cache=%d archive=%d, want 1/1", c.calls.Load(), a.calls.Load())
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v\nraw: %s", err, buf.String())
	}
	if entry["cache_entries"] != float64(12) || entry["archive_files"] != float64(2) {
		t.Errorf("log entry = %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms missing from log")
	}
}

func TestCleanupJob_Run_NilTargetsAreSkipped(t *testing.T) {
	var buf bytes.Buffer
	res := NewCleanupJob(nil, nil, newTestLogger(&buf)).Run(context.Background())
	if res != (Result{}) {
		t.Errorf("result = %+v, want zero", res)
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	c := &mockCachePurger{}
	job := NewCleanupJob(c, nil, newTestLogger(&buf))

	job.Run(context.Background())
	job.Run(context.Background())

	if c.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", c.calls.Load())
	}
}

func TestSchedule_InvalidSpec(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(nil, nil, newTestLogger(&buf))

	if _, err := Schedule("every now and then", job, newTestLogger(&buf)); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedule_RunsJobOnSchedule(t *testing.T) {
	var buf bytes.Buffer
	c := &mockCachePurger{}
	job := NewCleanupJob(c, nil, newTestLogger(&buf))

	s, err := Schedule("@every 1s", job, newTestLogger(&buf))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	defer s.Stop(context.Background())

	if next := s.Next(); next.IsZero() || next.Before(time.Now().Add(-time.Second)) {
		t.Errorf("Next = %v, want upcoming time", next)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job did not run within 5s")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSchedule_DescriptorAccepted(t *testing.T) {
	var buf bytes.Buffer
	s, err := Schedule("@daily", NewCleanupJob(nil, nil, nil), newTestLogger(&buf))
	if err != nil {
		t.Fatalf("Schedule(@daily): %v", err)
	}
	s.Stop(context.Background())
	if !strings.Contains(buf.String(), "@daily") {
		t.Errorf("schedule not logged: %s", buf.String())
	}
}
