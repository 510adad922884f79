// Package store is the durable record of observed market opportunities and
// per-recipient delivery history.
//
// The on-disk layout is a single JSON document keyed by system name. Every
// mutating call runs under one mutex and persists before returning, using a
// temp-file + rename so a crash mid-write never corrupts the previous state.
package store

import "time"

// RecipientType distinguishes the two kinds of delivery targets.
const (
	RecipientGuild = "guild"
	RecipientUser  = "user"
)

// StatusState is the occupation state of a system's status record.
type StatusState string

const (
	StateFortified  StatusState = "Fortified"
	StateStronghold StatusState = "Stronghold"
	StateExploited  StatusState = "Exploited"
	StateUnoccupied StatusState = "Unoccupied"
)

// Alertable reports whether a state produces deliverable status facts.
// Only fortified and stronghold systems carry a trading opportunity.
func (s StatusState) Alertable() bool {
	return s == StateFortified || s == StateStronghold
}

// CooldownSet maps recipient type → recipient ID → last-sent unix seconds.
// One set exists per elementary fact and is merged, never overwritten, by
// upserts so refreshing stock cannot erase delivery history.
type CooldownSet map[string]map[string]int64

// Mark records now as the last-sent time for a recipient.
func (c CooldownSet) Mark(recipientType, recipientID string, now time.Time) {
	byID, ok := c[recipientType]
	if !ok {
		byID = make(map[string]int64)
		c[recipientType] = byID
	}
	byID[recipientID] = now.Unix()
}

// Expired reports whether the recipient's cooldown has elapsed (or was
// never set).
func (c CooldownSet) Expired(recipientType, recipientID string, window time.Duration, now time.Time) bool {
	byID, ok := c[recipientType]
	if !ok {
		return true
	}
	ts, ok := byID[recipientID]
	if !ok {
		return true
	}
	return now.Sub(time.Unix(ts, 0)) >= window
}

// allOlderThan reports whether every timestamp in the set is older than the
// retention window. An empty set qualifies.
func (c CooldownSet) allOlderThan(retention time.Duration, now time.Time) bool {
	for _, byID := range c {
		for _, ts := range byID {
			if now.Sub(time.Unix(ts, 0)) < retention {
				return false
			}
		}
	}
	return true
}

func (c CooldownSet) clone() CooldownSet {
	out := make(CooldownSet, len(c))
	for rt, byID := range c {
		m := make(map[string]int64, len(byID))
		for id, ts := range byID {
			m[id] = ts
		}
		out[rt] = m
	}
	return out
}

// MetalEntry is the last-observed stock of one commodity at one station.
type MetalEntry struct {
	Stock     int         `json:"stock"`
	Cooldowns CooldownSet `json:"cooldowns"`
}

// Station belongs to exactly one system.
type Station struct {
	Type   string                 `json:"station_type"`
	URL    string                 `json:"url"`
	Metals map[string]*MetalEntry `json:"metals"`
}

// StatusRecord is a system's powerplay standing. Links carries pre-assembled
// merit trading links shown alongside alertable states.
type StatusRecord struct {
	Leader    string      `json:"power"`
	State     StatusState `json:"status"`
	Progress  int         `json:"progress"`
	Links     string      `json:"commodity_urls,omitempty"`
	Cooldowns CooldownSet `json:"cooldowns"`
}

// System is the top-level record: a stable external address, an optional
// status record, and the stations observed in it.
type System struct {
	Address  string              `json:"system_address"`
	Status   *StatusRecord       `json:"powerplay,omitempty"`
	Stations map[string]*Station `json:"stations"`
}

func (s *System) clone() *System {
	out := &System{
		Address:  s.Address,
		Stations: make(map[string]*Station, len(s.Stations)),
	}
	if s.Status != nil {
		st := *s.Status
		st.Cooldowns = s.Status.Cooldowns.clone()
		out.Status = &st
	}
	for name, station := range s.Stations {
		copied := &Station{
			Type:   station.Type,
			URL:    station.URL,
			Metals: make(map[string]*MetalEntry, len(station.Metals)),
		}
		for metal, entry := range station.Metals {
			copied.Metals[metal] = &MetalEntry{
				Stock:     entry.Stock,
				Cooldowns: entry.Cooldowns.clone(),
			}
		}
		out.Stations[name] = copied
	}
	return out
}

// hasLiveCooldown reports whether any fact in the system still has an
// unexpired cooldown under the retention window.
func (s *System) hasLiveCooldown(retention time.Duration, now time.Time) bool {
	if s.Status != nil && !s.Status.Cooldowns.allOlderThan(retention, now) {
		return true
	}
	for _, station := range s.Stations {
		for _, entry := range station.Metals {
			if !entry.Cooldowns.allOlderThan(retention, now) {
				return true
			}
		}
	}
	return false
}

// FactKey addresses one elementary deliverable fact: a metal entry when
// Station and Metal are set, the system's status record when both are empty.
type FactKey struct {
	System  string
	Station string
	Metal   string
}

// MarketFact keys a metal entry.
func MarketFact(system, station, metal string) FactKey {
	return FactKey{System: system, Station: station, Metal: metal}
}

// StatusFact keys a system's status record.
func StatusFact(system string) FactKey {
	return FactKey{System: system}
}

// IsStatus reports whether the key addresses a status record.
func (k FactKey) IsStatus() bool {
	return k.Station == "" && k.Metal == ""
}

// SentMark pairs a fact with the recipient it was delivered to.
type SentMark struct {
	Key           FactKey
	RecipientType string
	RecipientID   string
}
