// Package filter matches entry snapshots against recipient preference sets.
// It is pure: no storage, no delivery, no clock. Filtering happens at the
// data level, before any message text exists, so per-fact cooldown gating
// downstream stays expressible.
package filter

import (
	"strings"

	"github.com/congenial-acorn/goldwatch/internal/store"
)

// Kind tags the two entry variants.
type Kind int

const (
	KindMarket Kind = iota
	KindStatus
)

// MetalStock is one commodity observation inside a market entry.
type MetalStock struct {
	Metal string
	Stock int
}

// Entry is one filterable snapshot unit: a station's market observations, or
// a system's status record.
type Entry struct {
	Kind    Kind
	System  string
	Address string

	// Market fields
	Station     string
	StationType string
	URL         string
	Metals      []MetalStock

	// Status fields
	Leader   string
	State    store.StatusState
	Progress int
	Links    string
}

// Preferences is a recipient's filter selection. Empty categories are
// wildcards; non-empty categories must all be satisfied.
type Preferences struct {
	StationTypes []string
	Commodities  []string
	Leaders      []string
}

// IsZero reports whether no category is set.
func (p Preferences) IsZero() bool {
	return len(p.StationTypes) == 0 && len(p.Commodities) == 0 && len(p.Leaders) == 0
}

func (p Preferences) hasMarketPrefs() bool {
	return len(p.StationTypes) > 0 || len(p.Commodities) > 0
}

// Apply returns the entries the recipient should see. Market entries must
// satisfy every non-empty market category (AND semantics); their metal lists
// are narrowed to the preferred commodities. Status entries are matched on
// the leader category alone, and are excluded outright when any market
// category is set — a status fact cannot satisfy a market filter, so it is
// dropped rather than passed through unfiltered.
func Apply(entries []Entry, prefs Preferences) []Entry {
	if prefs.IsZero() {
		return entries
	}

	var out []Entry
	for _, entry := range entries {
		switch entry.Kind {
		case KindStatus:
			if prefs.hasMarketPrefs() {
				continue
			}
			if len(prefs.Leaders) > 0 && !matchesLeader(entry.Leader, prefs.Leaders) {
				continue
			}
			out = append(out, entry)

		case KindMarket:
			if len(prefs.StationTypes) > 0 && !matchesStationType(entry.StationType, prefs.StationTypes) {
				continue
			}
			if len(prefs.Commodities) > 0 {
				kept := narrowMetals(entry.Metals, prefs.Commodities)
				if len(kept) == 0 {
					continue
				}
				entry.Metals = kept
			}
			out = append(out, entry)
		}
	}
	return out
}

// matchesStationType allows exact and compound-label matches, so a
// preference like "Starport" matches "Coriolis Starport" and
// "Starport (Large)". Comparison is case-insensitive.
func matchesStationType(stationType string, prefs []string) bool {
	st := strings.ToLower(stationType)
	for _, pref := range prefs {
		p := strings.ToLower(pref)
		if st == p ||
			strings.HasPrefix(st, p+" ") ||
			strings.HasPrefix(st, p+"(") ||
			strings.Contains(" "+st+" ", " "+p+" ") {
			return true
		}
	}
	return false
}

// narrowMetals keeps only the commodities the recipient asked for.
func narrowMetals(metals []MetalStock, prefs []string) []MetalStock {
	var kept []MetalStock
	for _, m := range metals {
		for _, pref := range prefs {
			if strings.EqualFold(m.Metal, pref) {
				kept = append(kept, m)
				break
			}
		}
	}
	return kept
}

// matchesLeader accepts substring matches in either direction so partial
// leader names configured by recipients still match.
func matchesLeader(leader string, prefs []string) bool {
	l := strings.ToLower(leader)
	if l == "" {
		return false
	}
	for _, pref := range prefs {
		p := strings.ToLower(pref)
		if strings.Contains(l, p) || strings.Contains(p, l) {
			return true
		}
	}
	return false
}
