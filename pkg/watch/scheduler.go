package watch

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/orchestrate"
)

// RunFunc runs the pipeline for the given sites, typically orchestrate.RunSites
type RunFunc func(ctx context.Context, siteKeys []string) []orchestrate.SiteResult

// Scheduler re-runs sites whenever their interval has elapsed, persisting the
// last outcome of each so restarts do not re-run sites that are not due.
type Scheduler struct {
	siteKeys []string
	interval time.Duration
	tick     time.Duration
	run      RunFunc
	state    *StateManager
	log      *logrus.Entry
}

// NewScheduler creates a scheduler keeping its state under stateDir
func NewScheduler(stateDir string, siteKeys []string, interval time.Duration, run RunFunc, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		siteKeys: siteKeys,
		interval: interval,
		tick:     tickInterval(interval),
		run:      run,
		state:    NewStateManager(stateDir),
		log:      log,
	}
}

// Run blocks until ctx is done, running due sites on every tick
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sites with interval %s", len(s.siteKeys), FormatInterval(s.interval))
	s.logSchedule()
	s.runDueSites(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.runDueSites(ctx)
		}
	}
}

func (s *Scheduler) runDueSites(ctx context.Context) {
	var due []string
	for _, key := range s.siteKeys {
		if s.state.ShouldRun(key, s.interval) {
			due = append(due, key)
		}
	}
	if len(due) == 0 {
		s.logNextRun()
		return
	}

	s.log.Infof("Running %d due sites: %v", len(due), due)
	for _, r := range s.run(ctx, due) {
		if ctx.Err() != nil && !r.Success {
			// Interrupted runs are not recorded so they are retried on restart
			continue
		}
		st := SiteState{
			LastRunSuccess: r.Success,
			RunID:          r.Summary.RunID,
			CardsSeen:      r.Summary.Feed.TotalUnique,
			ArticlesStored: r.Summary.Articles.ContentCreated,
		}
		if r.Error != nil {
			st.ErrorMessage = r.Error.Error()
		}
		s.state.Record(r.SiteKey, st)
	}

	if err := s.state.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun()
}

// tickInterval checks every tenth of the interval, clamped to [1m, 10m]
func tickInterval(interval time.Duration) time.Duration {
	return min(max(interval/10, time.Minute), 10*time.Minute)
}

func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, key := range s.siteKeys {
		st, ok := s.state.GetSiteState(key)
		if !ok {
			s.log.Infof("  %s: never run, will run immediately", key)
			continue
		}
		status := "success"
		if !st.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %s (%s, %d new articles), next run %s",
			key, st.LastRunTime.Format(time.RFC3339), status, st.ArticlesStored,
			s.state.NextRunTime(key, s.interval).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	status := s.Status()
	if len(status) == 0 {
		return
	}
	next := status[0]
	until := max(time.Until(next.NextRunTime), 0)
	s.log.Infof("Next run: %s in %v (at %s)", next.SiteKey, until.Round(time.Second), next.NextRunTime.Format("15:04:05"))
}

// SiteStatus describes one watched site
type SiteStatus struct {
	SiteState
	SiteKey     string
	NextRunTime time.Time
	NeverRun    bool
}

// Status returns every watched site ordered by next run time
func (s *Scheduler) Status() []SiteStatus {
	out := make([]SiteStatus, 0, len(s.siteKeys))
	for _, key := range s.siteKeys {
		st, ok := s.state.GetSiteState(key)
		out = append(out, SiteStatus{
			SiteState:   st,
			SiteKey:     key,
			NextRunTime: s.state.NextRunTime(key, s.interval),
			NeverRun:    !ok,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextRunTime.Before(out[j].NextRunTime) })
	return out
}
