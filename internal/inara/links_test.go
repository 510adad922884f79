package inara

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommodityIDs(t *testing.T) {
	assert.Equal(t, []int{GoldID, PalladiumID}, CommodityIDs([]string{"Gold", "Palladium"}))
	assert.Equal(t, []int{GoldID}, CommodityIDs([]string{"Gold", "Bertrandite"}))
	assert.Empty(t, CommodityIDs(nil))
}

func TestAssembleCommodityLinks(t *testing.T) {
	var fetched []string
	fetch := func(ctx context.Context, u string) (string, error) {
		fetched = append(fetched, u)
		if len(fetched) == 2 {
			return "No commodities were found.", nil
		}
		return "<table>results</table>", nil
	}

	links := AssembleCommodityLinks(context.Background(), []int{GoldID, PalladiumID}, "HIP 12345", 40, fetch)
	require.Len(t, fetched, 2)
	require.Len(t, links, 1, "searches with no results are dropped")
	assert.Contains(t, links[0], fmt.Sprintf("pa1%%5B%%5D=%d", GoldID))
	assert.Contains(t, links[0], "ps1=HIP+12345")
	assert.Contains(t, links[0], "pi11=40")
}

func TestAssembleCommodityLinksKeepsLinkOnFetchError(t *testing.T) {
	fetch := func(ctx context.Context, u string) (string, error) {
		return "", errors.New("timeout")
	}
	links := AssembleCommodityLinks(context.Background(), []int{GoldID}, "Alpha", 40, fetch)
	assert.Len(t, links, 1, "the result check is advisory, not a gate")
}

func TestMaskCommodityLinks(t *testing.T) {
	gold := fmt.Sprintf("https://inara.cz/elite/commodities/?pa1%%5B%%5D=%d&x=1", GoldID)
	palladium := fmt.Sprintf("https://inara.cz/elite/commodities/?pa1%%5B%%5D=%d&x=1", PalladiumID)

	masked := MaskCommodityLinks([]string{gold, palladium})
	assert.Equal(t,
		fmt.Sprintf("[Sell gold here](%s) [Sell Palladium here](%s)", gold, palladium),
		masked)

	assert.Empty(t, MaskCommodityLinks(nil))
}
