package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/congenial-acorn/goldwatch/internal/inara"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

// feedDocument is the JSON handoff format the external scraper writes. The
// scraper owns parsing the data source; this side only ingests its output.
type feedDocument struct {
	StationsChecked int      `json:"stations_checked"`
	Observed        []string `json:"observed_systems"`
	Errors          []string `json:"errors,omitempty"`
	Markets         []struct {
		System      string `json:"system"`
		Address     string `json:"system_address"`
		Station     string `json:"station"`
		StationType string `json:"station_type"`
		URL         string `json:"url"`
		Metal       string `json:"metal"`
		Stock       int    `json:"stock"`
		Price       int    `json:"price"`
	} `json:"markets"`
	Statuses []struct {
		System   string `json:"system"`
		Address  string `json:"system_address"`
		Leader   string `json:"power"`
		State    string `json:"status"`
		Progress int    `json:"progress"`
		Links    string `json:"commodity_urls,omitempty"`
	} `json:"statuses"`
}

// FileScanner reads scan results from a feed file written by the external
// scraper collaborator. A missing or unreadable feed is a total scan
// failure: the cycle ends with an empty observed set and nothing is pruned.
type FileScanner struct {
	Path string

	// Detection thresholds: a market observation counts only when its
	// price and stock both reach these. Zero disables the check, for
	// feeds that pre-filter on the scraper side.
	MinPrice int
	MinStock int

	// Links, when set, fills in merit-trading links for alertable status
	// observations the feed left without any.
	Links *LinkEnricher
}

// LinkEnricher builds masked commodity search links for status records at
// scan time, so the dispatch engine only ever formats ready-made text.
type LinkEnricher struct {
	Client   *inara.Client
	Metals   []string
	Distance int // search radius in light years
}

func (l *LinkEnricher) enrich(ctx context.Context, obs *StatusObservation) {
	if obs.Links != "" || !obs.State.Alertable() {
		return
	}
	obs.Links = l.Client.BuildMeritLinks(ctx, l.Metals, obs.System, l.Distance)
}

// Scan reads and decodes the current feed document.
func (f FileScanner) Scan(ctx context.Context) (ScanResult, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return ScanResult{}, fmt.Errorf("read scan feed: %w", err)
	}
	var doc feedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ScanResult{}, fmt.Errorf("decode scan feed: %w", err)
	}

	result := ScanResult{
		StationsChecked: doc.StationsChecked,
		Observed:        make(map[string]struct{}, len(doc.Observed)),
		Errors:          doc.Errors,
	}
	for _, key := range doc.Observed {
		result.Observed[key] = struct{}{}
	}
	for _, m := range doc.Markets {
		// Price 0 means the feed omitted it; the scraper already
		// verified the price in that case.
		if f.MinPrice > 0 && m.Price > 0 && m.Price < f.MinPrice {
			continue
		}
		if f.MinStock > 0 && m.Stock < f.MinStock {
			continue
		}
		result.Markets = append(result.Markets, MarketObservation{
			System:      m.System,
			Address:     m.Address,
			Station:     m.Station,
			StationType: m.StationType,
			URL:         m.URL,
			Metal:       m.Metal,
			Stock:       m.Stock,
		})
	}
	for _, s := range doc.Statuses {
		obs := StatusObservation{
			System:   s.System,
			Address:  s.Address,
			Leader:   s.Leader,
			State:    store.StatusState(s.State),
			Progress: s.Progress,
			Links:    s.Links,
		}
		if f.Links != nil {
			f.Links.enrich(ctx, &obs)
		}
		result.Statuses = append(result.Statuses, obs)
	}
	return result, nil
}
