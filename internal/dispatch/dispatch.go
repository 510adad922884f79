// Package dispatch turns the entry store's contents into per-recipient
// notifications.
//
// Cycle flow: snapshot the store once → for each recipient independently:
// preference filter → per-fact cooldown gate → one aggregated content block
// per system → deliver → mark cooldowns only after confirmed delivery.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/congenial-acorn/goldwatch/internal/filter"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

// Recipient is an addressable delivery target with its resolved preferences.
type Recipient struct {
	Type        string // store.RecipientGuild | store.RecipientUser
	ID          string
	Address     string // delivery address, opaque to the engine
	Preferences filter.Preferences
}

// Source resolves the subscribed recipients; backed by the external
// preference store.
type Source interface {
	Recipients(ctx context.Context) ([]Recipient, error)
}

// Deliverer hands assembled content to the chat platform. A nil error is a
// confirmed delivery; any error means the facts stay unmarked and are
// retried next cycle.
type Deliverer interface {
	Deliver(ctx context.Context, r Recipient, content string) error
}

// Engine orchestrates dispatch cycles over the entry store.
type Engine struct {
	store        *store.Store
	source       Source
	deliverer    Deliverer
	marketWindow time.Duration
	statusWindow time.Duration
	debugGuildID string
	debugUserID  string
	logger       *slog.Logger
}

// Options carries the per-fact cooldown windows and debug recipient pins.
type Options struct {
	MarketWindow time.Duration
	StatusWindow time.Duration
	DebugGuildID string
	DebugUserID  string
}

// New creates an Engine. StatusWindow falls back to MarketWindow when unset.
func New(st *store.Store, source Source, deliverer Deliverer, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StatusWindow <= 0 {
		opts.StatusWindow = opts.MarketWindow
	}
	return &Engine{
		store:        st,
		source:       source,
		deliverer:    deliverer,
		marketWindow: opts.MarketWindow,
		statusWindow: opts.StatusWindow,
		debugGuildID: opts.DebugGuildID,
		debugUserID:  opts.DebugUserID,
		logger:       logger,
	}
}

// CycleResult reports what one dispatch cycle did.
type CycleResult struct {
	Recipients int
	Delivered  int
	Skipped    int // nothing retained after filter + cooldown gate
	Failed     int
	Duration   time.Duration
}

// Summary renders the result for log lines.
func (r CycleResult) Summary() string {
	return fmt.Sprintf("recipients=%d delivered=%d skipped=%d failed=%d in %s",
		r.Recipients, r.Delivered, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
}

// RunCycle executes one dispatch cycle. Recipient failures are counted, not
// propagated — one unreachable recipient never blocks the rest. The only
// returned error is a failure to resolve the recipient list.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var result CycleResult

	entries := Flatten(e.store.Snapshot())

	recipients, err := e.source.Recipients(ctx)
	if err != nil {
		return result, fmt.Errorf("resolve recipients: %w", err)
	}
	result.Recipients = len(recipients)

	e.logger.Debug("dispatch cycle starting",
		"entries", len(entries), "recipients", len(recipients))

	for _, r := range recipients {
		if e.debugSkip(r) {
			result.Skipped++
			continue
		}

		kept := filter.Apply(entries, r.Preferences)
		retained, marks := e.gateCooldowns(kept, r)
		if len(retained) == 0 {
			result.Skipped++
			continue
		}

		content := BuildContent(retained)
		if err := e.deliverer.Deliver(ctx, r, content); err != nil {
			// No cooldown mark: the facts stay eligible next cycle.
			e.logger.Warn("delivery failed",
				"recipient_type", r.Type, "recipient_id", r.ID, "error", err)
			result.Failed++
			continue
		}
		if err := e.store.MarkSentBatch(marks); err != nil {
			e.logger.Error("mark sent failed",
				"recipient_type", r.Type, "recipient_id", r.ID, "error", err)
		}
		result.Delivered++
	}

	result.Duration = time.Since(start)
	e.logger.Info("dispatch cycle complete", "summary", result.Summary())
	return result, nil
}

// debugSkip suppresses every recipient except the pinned one when debug
// pinning is configured for that recipient type.
func (e *Engine) debugSkip(r Recipient) bool {
	switch r.Type {
	case store.RecipientGuild:
		return e.debugGuildID != "" && r.ID != e.debugGuildID
	case store.RecipientUser:
		return e.debugUserID != "" && r.ID != e.debugUserID
	}
	return false
}

// gateCooldowns drops the facts still inside their window for this
// recipient and collects the marks to write after a confirmed delivery.
// Market entries are gated per metal; an entry whose metals are all cooling
// down disappears for this recipient while staying visible to others.
func (e *Engine) gateCooldowns(entries []filter.Entry, r Recipient) ([]filter.Entry, []store.SentMark) {
	var retained []filter.Entry
	var marks []store.SentMark

	for _, entry := range entries {
		switch entry.Kind {
		case filter.KindStatus:
			key := store.StatusFact(entry.System)
			if !e.store.CheckCooldown(key, r.Type, r.ID, e.statusWindow) {
				continue
			}
			retained = append(retained, entry)
			marks = append(marks, store.SentMark{Key: key, RecipientType: r.Type, RecipientID: r.ID})

		case filter.KindMarket:
			var metals []filter.MetalStock
			for _, m := range entry.Metals {
				key := store.MarketFact(entry.System, entry.Station, m.Metal)
				if !e.store.CheckCooldown(key, r.Type, r.ID, e.marketWindow) {
					continue
				}
				metals = append(metals, m)
				marks = append(marks, store.SentMark{Key: key, RecipientType: r.Type, RecipientID: r.ID})
			}
			if len(metals) == 0 {
				continue
			}
			entry.Metals = metals
			retained = append(retained, entry)
		}
	}
	return retained, marks
}

// Flatten converts a store snapshot into filterable entries: one market
// entry per station and one status entry per system with an alertable
// state. Output is deterministically ordered — systems lexicographically,
// stations the same way within a system, a system's status entry last.
func Flatten(snapshot map[string]*store.System) []filter.Entry {
	systemNames := make([]string, 0, len(snapshot))
	for name := range snapshot {
		systemNames = append(systemNames, name)
	}
	sort.Strings(systemNames)

	var entries []filter.Entry
	for _, systemName := range systemNames {
		sys := snapshot[systemName]

		stationNames := make([]string, 0, len(sys.Stations))
		for name := range sys.Stations {
			stationNames = append(stationNames, name)
		}
		sort.Strings(stationNames)

		for _, stationName := range stationNames {
			station := sys.Stations[stationName]
			if len(station.Metals) == 0 {
				continue
			}
			metalNames := make([]string, 0, len(station.Metals))
			for name := range station.Metals {
				metalNames = append(metalNames, name)
			}
			sort.Strings(metalNames)

			metals := make([]filter.MetalStock, 0, len(metalNames))
			for _, metal := range metalNames {
				metals = append(metals, filter.MetalStock{Metal: metal, Stock: station.Metals[metal].Stock})
			}
			entries = append(entries, filter.Entry{
				Kind:        filter.KindMarket,
				System:      systemName,
				Address:     sys.Address,
				Station:     stationName,
				StationType: station.Type,
				URL:         station.URL,
				Metals:      metals,
			})
		}

		if sys.Status != nil && sys.Status.State.Alertable() {
			entries = append(entries, filter.Entry{
				Kind:     filter.KindStatus,
				System:   systemName,
				Address:  sys.Address,
				Leader:   sys.Status.Leader,
				State:    sys.Status.State,
				Progress: sys.Status.Progress,
				Links:    sys.Status.Links,
			})
		}
	}
	return entries
}

// BuildContent assembles one aggregated block per system, blocks separated
// by a blank line. Entries are expected in Flatten order, which keeps the
// output reproducible.
func BuildContent(entries []filter.Entry) string {
	var blocks []string
	var lines []string
	current := ""
	headerWritten := false

	flush := func() {
		if len(lines) > 0 {
			blocks = append(blocks, strings.Join(lines, "\n"))
			lines = nil
		}
		headerWritten = false
	}

	for _, entry := range entries {
		if entry.System != current {
			flush()
			current = entry.System
		}
		switch entry.Kind {
		case filter.KindMarket:
			if !headerWritten {
				addr := "Unknown address"
				if entry.Address != "" {
					addr = "<" + entry.Address + ">"
				}
				lines = append(lines, fmt.Sprintf("Hidden markets detected in %s (%s):", entry.System, addr))
				headerWritten = true
			}
			parts := make([]string, 0, len(entry.Metals))
			for _, m := range entry.Metals {
				parts = append(parts, fmt.Sprintf("%s stock: %d", m.Metal, m.Stock))
			}
			lines = append(lines, fmt.Sprintf("- %s (%s), <%s> - %s",
				entry.Station, entry.StationType, entry.URL, strings.Join(parts, "; ")))

		case filter.KindStatus:
			lines = append(lines, fmt.Sprintf("%s is a %s %s system.", entry.System, entry.Leader, entry.State))
			if entry.Links != "" {
				lines = append(lines, "You can earn merits by trading for a large profit in these acquisition systems: "+entry.Links)
			}
		}
	}
	flush()

	return strings.Join(blocks, "\n\n")
}
