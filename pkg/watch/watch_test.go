package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/models"
	"site-ingest/pkg/orchestrate"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{" 2d6h ", 54 * time.Hour, false},
		{"d", 0, true},
		{"1dx", 0, true},
		{"-1d", 0, true},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseInterval(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInterval(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatInterval(tt.input); got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTickInterval(t *testing.T) {
	if got := tickInterval(time.Minute); got != time.Minute {
		t.Errorf("tickInterval(1m) = %v, want 1m", got)
	}
	if got := tickInterval(time.Hour); got != 6*time.Minute {
		t.Errorf("tickInterval(1h) = %v, want 6m", got)
	}
	if got := tickInterval(7 * day); got != 10*time.Minute {
		t.Errorf("tickInterval(7d) = %v, want 10m", got)
	}
}

func TestStateManager_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	sm := NewStateManager(dir)
	sm.now = func() time.Time { return now }
	if err := sm.Load(); err != nil {
		t.Fatalf("Load() on empty dir failed: %v", err)
	}
	if !sm.ShouldRun("facts", time.Hour) {
		t.Error("a site that never ran should be due")
	}

	sm.Record("facts", SiteState{LastRunSuccess: true, RunID: "r1", CardsSeen: 4, ArticlesStored: 3})
	if sm.ShouldRun("facts", time.Hour) {
		t.Error("ShouldRun() should be false right after a run")
	}
	if got := sm.NextRunTime("facts", time.Hour); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("NextRunTime() = %v, want %v", got, now.Add(time.Hour))
	}

	now = now.Add(time.Hour)
	if !sm.ShouldRun("facts", time.Hour) {
		t.Error("ShouldRun() should be true once the interval elapsed")
	}

	if err := sm.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(sm.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}

	sm2 := NewStateManager(dir)
	if err := sm2.Load(); err != nil {
		t.Fatalf("Load() from saved state failed: %v", err)
	}
	st, ok := sm2.GetSiteState("facts")
	if !ok {
		t.Fatal("GetSiteState() should find the saved site")
	}
	if st.RunID != "r1" || st.CardsSeen != 4 || st.ArticlesStored != 3 || !st.LastRunSuccess {
		t.Errorf("loaded state = %+v", st)
	}
	if len(sm2.Sites()) != 1 {
		t.Errorf("Sites() = %v, want one entry", sm2.Sites())
	}
}

func TestStateManager_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	sm := NewStateManager(dir)
	if err := os.WriteFile(sm.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := sm.Load(); err == nil {
		t.Error("Load() should fail on a corrupt state file")
	}
}

func TestScheduler_RunsDueSitesAndPersists(t *testing.T) {
	dir := t.TempDir()
	var calls [][]string

	run := func(ctx context.Context, keys []string) []orchestrate.SiteResult {
		calls = append(calls, keys)
		return []orchestrate.SiteResult{
			{SiteKey: "facts", Success: true, Summary: orchestrate.RunSummary{
				RunID:    "run-1",
				Feed:     models.PersistStats{TotalUnique: 4},
				Articles: models.PersistStats{ContentCreated: 3},
			}},
			{SiteKey: "news", Error: errors.New("discovery failed")},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s := NewScheduler(dir, []string{"facts", "news"}, time.Hour, run, testLogger())
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("run calls = %v, want one call with both sites", calls)
	}

	sm := NewStateManager(dir)
	if err := sm.Load(); err != nil {
		t.Fatal(err)
	}
	facts, _ := sm.GetSiteState("facts")
	if !facts.LastRunSuccess || facts.RunID != "run-1" || facts.ArticlesStored != 3 {
		t.Errorf("facts state = %+v", facts)
	}
	news, _ := sm.GetSiteState("news")
	if news.LastRunSuccess || news.ErrorMessage != "discovery failed" {
		t.Errorf("news state = %+v", news)
	}

	// A restart inside the interval must not re-run anything
	calls = nil
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	s2 := NewScheduler(dir, []string{"facts", "news"}, time.Hour, run, testLogger())
	if err := s2.Run(ctx2); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("restart ran %v, want nothing", calls)
	}

	status := s2.Status()
	if len(status) != 2 || status[0].NeverRun {
		t.Errorf("Status() = %+v", status)
	}
}
