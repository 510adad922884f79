package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is the single source of truth shared by the scan ingestor and the
// dispatch engine. One mutex guards every read-modify-write-persist cycle;
// dispatch reads through Snapshot so it never observes a half-applied scan.
type Store struct {
	mu             sync.Mutex
	path           string
	systems        map[string]*System
	retention      time.Duration
	scanInProgress bool
	lastSaved      time.Time

	// now is swapped out by tests; production always uses time.Now.
	now func() time.Time
}

// Open loads the store from path, creating parent directories as needed.
// A missing, unreadable, or corrupt file is treated as an empty store —
// data loss is accepted, crashing is not.
func Open(path string, retention time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	s := &Store{
		path:      path,
		retention: retention,
		now:       time.Now,
	}
	s.systems = s.load()
	return s, nil
}

func (s *Store) load() map[string]*System {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return make(map[string]*System)
	}
	var systems map[string]*System
	if err := json.Unmarshal(raw, &systems); err != nil || systems == nil {
		return make(map[string]*System)
	}
	for _, sys := range systems {
		normalize(sys)
	}
	return systems
}

// normalize repairs nil maps in records read from older or hand-edited
// files so callers never see a nil Stations/Metals/Cooldowns map.
func normalize(sys *System) {
	if sys.Stations == nil {
		sys.Stations = make(map[string]*Station)
	}
	for _, station := range sys.Stations {
		if station.Metals == nil {
			station.Metals = make(map[string]*MetalEntry)
		}
		for _, entry := range station.Metals {
			if entry.Cooldowns == nil {
				entry.Cooldowns = make(CooldownSet)
			}
			if entry.Stock < 0 {
				entry.Stock = 0
			}
		}
	}
	if sys.Status != nil {
		if sys.Status.Cooldowns == nil {
			sys.Status.Cooldowns = make(CooldownSet)
		}
		sys.Status.Progress = clampProgress(sys.Status.Progress)
	}
}

// saveLocked persists the full structure atomically: marshal to a temp file
// in the same directory, then rename over the previous file. Callers must
// hold s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.systems, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	s.lastSaved = s.now()
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ensureSystemLocked returns the system record, creating it on first sight.
func (s *Store) ensureSystemLocked(name, address string) *System {
	sys, ok := s.systems[name]
	if !ok {
		sys = &System{Stations: make(map[string]*Station)}
		s.systems[name] = sys
	}
	sys.Address = address
	return sys
}

// UpsertMarket writes the last-observed stock for one commodity at one
// station, creating intermediate nodes as needed. Stock, station type, URL
// and system address follow last-observed-wins; the metal's cooldown set is
// preserved across writes.
func (s *Store) UpsertMarket(systemName, address, stationName, stationType, url, metal string, stock int) error {
	if stock < 0 {
		stock = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sys := s.ensureSystemLocked(systemName, address)
	station, ok := sys.Stations[stationName]
	if !ok {
		station = &Station{Metals: make(map[string]*MetalEntry)}
		sys.Stations[stationName] = station
	}
	station.Type = stationType
	station.URL = url

	entry, ok := station.Metals[metal]
	if !ok {
		entry = &MetalEntry{Cooldowns: make(CooldownSet)}
		station.Metals[metal] = entry
	}
	entry.Stock = stock

	return s.saveLocked()
}

// UpsertStatus writes a system's status record, preserving station data and
// the status cooldown set. Progress is clamped to 0–100.
func (s *Store) UpsertStatus(systemName, address, leader string, state StatusState, progress int, links string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sys := s.ensureSystemLocked(systemName, address)
	cooldowns := make(CooldownSet)
	if sys.Status != nil {
		cooldowns = sys.Status.Cooldowns
	}
	sys.Status = &StatusRecord{
		Leader:    leader,
		State:     state,
		Progress:  clampProgress(progress),
		Links:     links,
		Cooldowns: cooldowns,
	}

	return s.saveLocked()
}

// Snapshot returns a deep copy of the full structure for dispatch to walk
// without racing concurrent ingestor writes.
func (s *Store) Snapshot() map[string]*System {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*System, len(s.systems))
	for name, sys := range s.systems {
		out[name] = sys.clone()
	}
	return out
}

// CheckCooldown reports whether the fact may be sent to the recipient: true
// when no timestamp exists for the key or the existing one is older than
// window. Unknown facts pass — a fact that was pruned mid-cycle simply is
// not suppressed.
func (s *Store) CheckCooldown(key FactKey, recipientType, recipientID string, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.cooldownsLocked(key)
	if !ok {
		return true
	}
	return set.Expired(recipientType, recipientID, window, s.now())
}

// MarkSent sets the recipient's cooldown clock for one fact to the current
// time and persists.
func (s *Store) MarkSent(key FactKey, recipientType, recipientID string) error {
	return s.MarkSentBatch([]SentMark{{Key: key, RecipientType: recipientType, RecipientID: recipientID}})
}

// MarkSentBatch marks a slice of delivered facts in a single persist, used
// after one confirmed delivery covering many facts.
func (s *Store) MarkSentBatch(marks []SentMark) error {
	if len(marks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, m := range marks {
		set, ok := s.cooldownsLocked(m.Key)
		if !ok {
			// Fact pruned since the snapshot; nothing to clock.
			continue
		}
		set.Mark(m.RecipientType, m.RecipientID, now)
	}
	return s.saveLocked()
}

// cooldownsLocked resolves a fact key to its cooldown set. Callers must
// hold s.mu.
func (s *Store) cooldownsLocked(key FactKey) (CooldownSet, bool) {
	sys, ok := s.systems[key.System]
	if !ok {
		return nil, false
	}
	if key.IsStatus() {
		if sys.Status == nil {
			return nil, false
		}
		return sys.Status.Cooldowns, true
	}
	station, ok := sys.Stations[key.Station]
	if !ok {
		return nil, false
	}
	entry, ok := station.Metals[key.Metal]
	if !ok {
		return nil, false
	}
	return entry.Cooldowns, true
}

// BeginScan marks the start of a scan cycle.
func (s *Store) BeginScan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanInProgress = true
}

// EndScan closes a scan cycle and prunes stale systems.
//
// A system is removed only when it was confirmed absent (not in observed)
// AND every cooldown timestamp in all of its facts is older than the
// retention window. An empty observed set deletes nothing at all: a scan
// that produced zero observations is indistinguishable from a total scan
// failure, so removal must not be assumed.
func (s *Store) EndScan(observed map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanInProgress = false

	if len(observed) == 0 {
		return s.saveLocked()
	}

	now := s.now()
	for name, sys := range s.systems {
		if _, ok := observed[name]; ok {
			continue
		}
		if sys.hasLiveCooldown(s.retention, now) {
			continue
		}
		delete(s.systems, name)
	}
	return s.saveLocked()
}

// Stats summarizes the store for the status API.
type Stats struct {
	Path           string    `json:"path"`
	Systems        int       `json:"systems"`
	Stations       int       `json:"stations"`
	MarketFacts    int       `json:"market_facts"`
	StatusFacts    int       `json:"status_facts"`
	CooldownMarks  int       `json:"cooldown_marks"`
	ScanInProgress bool      `json:"scan_in_progress"`
	LastSaved      time.Time `json:"last_saved"`
}

// Summarize counts the stored structure.
func (s *Store) Summarize() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Path:           s.path,
		Systems:        len(s.systems),
		ScanInProgress: s.scanInProgress,
		LastSaved:      s.lastSaved,
	}
	countSet := func(c CooldownSet) {
		for _, byID := range c {
			st.CooldownMarks += len(byID)
		}
	}
	for _, sys := range s.systems {
		st.Stations += len(sys.Stations)
		if sys.Status != nil {
			st.StatusFacts++
			countSet(sys.Status.Cooldowns)
		}
		for _, station := range sys.Stations {
			st.MarketFacts += len(station.Metals)
			for _, entry := range station.Metals {
				countSet(entry.Cooldowns)
			}
		}
	}
	return st
}
