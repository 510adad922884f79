// Package monitor owns the periodic scan cycle: it drives an external
// Scanner, writes confirmed observations into the entry store, closes the
// cycle with the observed system set, and hands off to the dispatch engine.
//
// The scraping and parsing of the data source live entirely behind the
// Scanner interface.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/congenial-acorn/goldwatch/internal/dispatch"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

// MarketObservation is one confirmed commodity sighting.
type MarketObservation struct {
	System      string
	Address     string
	Station     string
	StationType string
	URL         string
	Metal       string
	Stock       int
}

// StatusObservation is one confirmed system status sighting.
type StatusObservation struct {
	System   string
	Address  string
	Leader   string
	State    store.StatusState
	Progress int
	Links    string
}

// ScanResult is everything one scan cycle produced. Observed holds the
// system keys that were successfully re-verified; a system whose fetch
// errored must not appear here, so the prune step treats it as unconfirmed
// rather than absent.
type ScanResult struct {
	Markets         []MarketObservation
	Statuses        []StatusObservation
	Observed        map[string]struct{}
	StationsChecked int
	Errors          []string
}

// Scanner produces one cycle's observations from the external data source.
type Scanner interface {
	Scan(ctx context.Context) (ScanResult, error)
}

// Monitor runs scan cycles on an interval and triggers dispatch after each.
type Monitor struct {
	scanner         Scanner
	store           *store.Store
	requests        chan<- dispatch.CycleRequest
	interval        time.Duration
	dispatchTimeout time.Duration
	logger          *slog.Logger
}

// New creates a Monitor. requests may be nil for one-shot ingestion with no
// dispatch (goldctl scan).
func New(scanner Scanner, st *store.Store, requests chan<- dispatch.CycleRequest, interval, dispatchTimeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		scanner:         scanner,
		store:           st,
		requests:        requests,
		interval:        interval,
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
	}
}

// CycleStats summarizes one completed scan cycle.
type CycleStats struct {
	StationsChecked int
	MarketsWritten  int
	StatusesWritten int
	SystemsObserved int
	Duration        time.Duration
}

// Summary renders the stats for log lines.
func (s CycleStats) Summary() string {
	return fmt.Sprintf("stations=%d markets=%d statuses=%d systems=%d in %s",
		s.StationsChecked, s.MarketsWritten, s.StatusesWritten, s.SystemsObserved,
		s.Duration.Round(time.Second))
}

// RunOnce executes a single scan cycle: begin scan, write every observation,
// end scan with the observed key set, then trigger a dispatch cycle.
//
// EndScan runs exactly once per cycle, even when the scan fails outright —
// in that case the observed set is empty and the store's fail-safe prevents
// any pruning.
func (m *Monitor) RunOnce(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	var stats CycleStats

	m.store.BeginScan()
	observed := make(map[string]struct{})

	result, scanErr := m.scanner.Scan(ctx)
	if scanErr != nil {
		m.logger.Error("scan failed", "error", scanErr)
	} else {
		stats.StationsChecked = result.StationsChecked
		for _, e := range result.Errors {
			m.logger.Warn("scan error", "error", e)
		}
		for _, obs := range result.Markets {
			if err := m.store.UpsertMarket(obs.System, obs.Address, obs.Station, obs.StationType, obs.URL, obs.Metal, obs.Stock); err != nil {
				m.logger.Error("upsert market failed", "system", obs.System, "station", obs.Station, "error", err)
				continue
			}
			stats.MarketsWritten++
		}
		for _, obs := range result.Statuses {
			if err := m.store.UpsertStatus(obs.System, obs.Address, obs.Leader, obs.State, obs.Progress, obs.Links); err != nil {
				m.logger.Error("upsert status failed", "system", obs.System, "error", err)
				continue
			}
			stats.StatusesWritten++
		}
		for key := range result.Observed {
			observed[key] = struct{}{}
		}
	}

	stats.SystemsObserved = len(observed)
	if err := m.store.EndScan(observed); err != nil {
		m.logger.Error("end scan failed", "error", err)
	}

	if m.requests != nil {
		if err := dispatch.Trigger(ctx, m.requests, m.dispatchTimeout, m.logger); err != nil {
			m.logger.Error("dispatch cycle abandoned", "error", err)
		}
	}

	stats.Duration = time.Since(start)
	if scanErr != nil {
		return stats, fmt.Errorf("scan cycle: %w", scanErr)
	}
	return stats, nil
}

// Run executes scan cycles until ctx is cancelled, sleeping the scan
// interval between cycles.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor loop started", "interval", m.interval)
	for {
		stats, err := m.RunOnce(ctx)
		if err == nil {
			m.logger.Info("scan cycle complete", "summary", stats.Summary())
		}

		next := time.Now().Add(m.interval)
		m.logger.Info("sleeping until next scan", "next_scan", next.Format(time.RFC3339))

		timer := time.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("monitor loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}
