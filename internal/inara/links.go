package inara

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Commodity IDs used by the source's commodity search.
const (
	GoldID      = 42
	PalladiumID = 45
)

// CommodityIDs maps the metals this system watches to source commodity IDs.
func CommodityIDs(metals []string) []int {
	var ids []int
	for _, metal := range metals {
		switch metal {
		case "Gold":
			ids = append(ids, GoldID)
		case "Palladium":
			ids = append(ids, PalladiumID)
		}
	}
	return ids
}

// AssembleCommodityLinks builds one commodity search URL per ID near the
// given system, keeping only URLs that actually return results. fetch is
// the throttled page getter; a fetch error keeps the link (the check is an
// optimization, not a gate).
func AssembleCommodityLinks(ctx context.Context, ids []int, systemName string, distance int, fetch func(context.Context, string) (string, error)) []string {
	encoded := url.QueryEscape(systemName)
	base := "https://inara.cz/elite/commodities/?formbrief=1&pi1=2"
	tail := fmt.Sprintf("&ps1=%s&pi10=3&pi11=%d&pi3=1&pi9=0&pi4=0&pi8=0&pi13=0&pi5=720&pi12=0&pi7=0&pi14=-1&ps3=", encoded, distance)

	var links []string
	for _, id := range ids {
		u := fmt.Sprintf("%s&pa1%%5B%%5D=%d%s", base, id, tail)
		if hasResults(ctx, u, fetch) {
			links = append(links, u)
		}
	}
	return links
}

func hasResults(ctx context.Context, u string, fetch func(context.Context, string) (string, error)) bool {
	body, err := fetch(ctx, u)
	if err != nil {
		return true
	}
	return !strings.Contains(body, "No commodities were found.")
}

// BuildMeritLinks assembles and masks commodity search links for one
// system: the metals' search URLs near systemName, rendered as markdown.
// Returns "" when no search produces results.
func (c *Client) BuildMeritLinks(ctx context.Context, metals []string, systemName string, distance int) string {
	links := AssembleCommodityLinks(ctx, CommodityIDs(metals), systemName, distance, c.Get)
	return MaskCommodityLinks(links)
}

// MaskCommodityLinks renders commodity search URLs as markdown links with
// commodity-specific labels, space separated.
func MaskCommodityLinks(links []string) string {
	if len(links) == 0 {
		return ""
	}
	masked := make([]string, 0, len(links))
	for _, u := range links {
		text := "Sell here"
		switch {
		case strings.Contains(u, fmt.Sprintf("pa1%%5B%%5D=%d", GoldID)):
			text = "Sell gold here"
		case strings.Contains(u, fmt.Sprintf("pa1%%5B%%5D=%d", PalladiumID)):
			text = "Sell Palladium here"
		}
		masked = append(masked, fmt.Sprintf("[%s](%s)", text, u))
	}
	return strings.Join(masked, " ")
}
