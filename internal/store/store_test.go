package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	window    = 48 * time.Hour
	retention = 48 * time.Hour
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "market_db.json"), retention)
	require.NoError(t, err)
	return s
}

// advance moves the store's clock forward by d.
func advance(s *Store, d time.Duration) {
	base := s.now()
	s.now = func() time.Time { return base.Add(d) }
}

func TestUpsertMarketIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertMarket("Alpha", "addr-1", "X", "Coriolis Starport", "https://example.test/1", "Gold", 20000))
	require.NoError(t, s.UpsertMarket("Alpha", "addr-1", "X", "Coriolis Starport", "https://example.test/1", "Gold", 20000))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap["Alpha"].Stations, 1)
	require.Len(t, snap["Alpha"].Stations["X"].Metals, 1)
	assert.Equal(t, 20000, snap["Alpha"].Stations["X"].Metals["Gold"].Stock)
}

func TestUpsertMarketPreservesCooldowns(t *testing.T) {
	s := newTestStore(t)
	key := MarketFact("Alpha", "X", "Gold")

	require.NoError(t, s.UpsertMarket("Alpha", "addr-1", "X", "Outpost", "u", "Gold", 20000))
	require.NoError(t, s.MarkSent(key, RecipientGuild, "g1"))
	require.False(t, s.CheckCooldown(key, RecipientGuild, "g1", window))

	// Fresh stock must not erase delivery history.
	require.NoError(t, s.UpsertMarket("Alpha", "addr-1", "X", "Outpost", "u", "Gold", 31337))
	assert.False(t, s.CheckCooldown(key, RecipientGuild, "g1", window))
	assert.Equal(t, 31337, s.Snapshot()["Alpha"].Stations["X"].Metals["Gold"].Stock)
}

func TestUpsertStatusPreservesCooldownsAndStations(t *testing.T) {
	s := newTestStore(t)
	key := StatusFact("Alpha")

	require.NoError(t, s.UpsertMarket("Alpha", "addr-1", "X", "Outpost", "u", "Gold", 100))
	require.NoError(t, s.UpsertStatus("Alpha", "addr-1", "Felicia Winters", StateFortified, 40, ""))
	require.NoError(t, s.MarkSent(key, RecipientUser, "u1"))

	require.NoError(t, s.UpsertStatus("Alpha", "addr-1", "Felicia Winters", StateStronghold, 90, ""))

	assert.False(t, s.CheckCooldown(key, RecipientUser, "u1", window))
	snap := s.Snapshot()
	assert.Equal(t, StateStronghold, snap["Alpha"].Status.State)
	assert.Len(t, snap["Alpha"].Stations, 1, "status upsert must not touch stations")
}

func TestUpsertStatusClampsProgress(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertStatus("Alpha", "a", "Yuri Grom", StateFortified, 140, ""))
	assert.Equal(t, 100, s.Snapshot()["Alpha"].Status.Progress)
	require.NoError(t, s.UpsertStatus("Alpha", "a", "Yuri Grom", StateFortified, -3, ""))
	assert.Equal(t, 0, s.Snapshot()["Alpha"].Status.Progress)
}

func TestCheckCooldownUnknownFactPasses(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.CheckCooldown(MarketFact("Nowhere", "X", "Gold"), RecipientGuild, "g1", window))
	assert.True(t, s.CheckCooldown(StatusFact("Nowhere"), RecipientGuild, "g1", window))
}

func TestCooldownGate(t *testing.T) {
	s := newTestStore(t)
	key := MarketFact("Alpha", "X", "Gold")
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))

	require.True(t, s.CheckCooldown(key, RecipientGuild, "g1", window))
	require.NoError(t, s.MarkSent(key, RecipientGuild, "g1"))
	require.False(t, s.CheckCooldown(key, RecipientGuild, "g1", window))

	advance(s, window+time.Minute)
	assert.True(t, s.CheckCooldown(key, RecipientGuild, "g1", window))
}

func TestCooldownIndependencePerRecipient(t *testing.T) {
	s := newTestStore(t)
	key := MarketFact("Alpha", "X", "Gold")
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))

	require.NoError(t, s.MarkSent(key, RecipientGuild, "g1"))

	assert.False(t, s.CheckCooldown(key, RecipientGuild, "g1", window))
	assert.True(t, s.CheckCooldown(key, RecipientGuild, "g2", window))
	assert.True(t, s.CheckCooldown(key, RecipientUser, "g1", window), "same ID, different type is a different clock")
}

func TestPruneSafety(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))
	require.NoError(t, s.UpsertMarket("Beta", "b", "Y", "Outpost", "u", "Gold", 100))
	require.NoError(t, s.MarkSent(MarketFact("Alpha", "X", "Gold"), RecipientGuild, "g1"))

	// Alpha absent but has a live cooldown: survives.
	require.NoError(t, s.EndScan(map[string]struct{}{"Beta": {}}))
	snap := s.Snapshot()
	assert.Contains(t, snap, "Alpha")
	assert.Contains(t, snap, "Beta")

	// Once the delivery history expires and Alpha is still absent, it goes.
	advance(s, retention+time.Minute)
	require.NoError(t, s.EndScan(map[string]struct{}{"Beta": {}}))
	snap = s.Snapshot()
	assert.NotContains(t, snap, "Alpha")
	assert.Contains(t, snap, "Beta")
}

func TestPruneRemovesSystemWithNoCooldowns(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))
	require.NoError(t, s.UpsertMarket("Beta", "b", "Y", "Outpost", "u", "Gold", 100))

	require.NoError(t, s.EndScan(map[string]struct{}{"Beta": {}}))
	snap := s.Snapshot()
	assert.NotContains(t, snap, "Alpha", "never-sent system confirmed absent is pruned")
	assert.Contains(t, snap, "Beta")
}

func TestEmptyScanDeletesNothing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))
	advance(s, retention+time.Hour) // even with all history expired

	s.BeginScan()
	require.NoError(t, s.EndScan(map[string]struct{}{}))
	assert.Contains(t, s.Snapshot(), "Alpha")
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market_db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Open(path, retention)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot())
}

func TestInterruptedWriteLeavesPriorFileIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market_db.json")
	s, err := Open(path, retention)
	require.NoError(t, err)
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))

	// A crash between writing the temp file and the rename leaves a stray
	// .tmp behind; the store file itself must still be the prior state.
	require.NoError(t, os.WriteFile(path+".tmp", []byte("partial garbage"), 0o644))

	reopened, err := Open(path, retention)
	require.NoError(t, err)
	assert.Contains(t, reopened.Snapshot(), "Alpha")
	assert.Equal(t, 100, reopened.Snapshot()["Alpha"].Stations["X"].Metals["Gold"].Stock)
}

func TestCooldownsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market_db.json")
	s, err := Open(path, retention)
	require.NoError(t, err)

	key := MarketFact("Alpha", "X", "Gold")
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))
	require.NoError(t, s.MarkSent(key, RecipientGuild, "g1"))

	reopened, err := Open(path, retention)
	require.NoError(t, err)
	assert.False(t, reopened.CheckCooldown(key, RecipientGuild, "g1", window))
	assert.True(t, reopened.CheckCooldown(key, RecipientGuild, "g2", window))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))

	snap := s.Snapshot()
	snap["Alpha"].Stations["X"].Metals["Gold"].Stock = 999
	snap["Alpha"].Stations["X"].Metals["Gold"].Cooldowns.Mark(RecipientGuild, "g1", time.Now())

	assert.Equal(t, 100, s.Snapshot()["Alpha"].Stations["X"].Metals["Gold"].Stock)
	assert.True(t, s.CheckCooldown(MarketFact("Alpha", "X", "Gold"), RecipientGuild, "g1", window))
}

func TestMarkSentBatchSkipsPrunedFacts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))

	// One live fact, one that no longer exists. The batch must still land.
	marks := []SentMark{
		{Key: MarketFact("Alpha", "X", "Gold"), RecipientType: RecipientGuild, RecipientID: "g1"},
		{Key: MarketFact("Gone", "Z", "Gold"), RecipientType: RecipientGuild, RecipientID: "g1"},
	}
	require.NoError(t, s.MarkSentBatch(marks))
	assert.False(t, s.CheckCooldown(MarketFact("Alpha", "X", "Gold"), RecipientGuild, "g1", window))
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 100))
	require.NoError(t, s.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Palladium", 50))
	require.NoError(t, s.UpsertStatus("Alpha", "a", "Yuri Grom", StateFortified, 10, ""))
	require.NoError(t, s.MarkSent(MarketFact("Alpha", "X", "Gold"), RecipientGuild, "g1"))

	st := s.Summarize()
	assert.Equal(t, 1, st.Systems)
	assert.Equal(t, 1, st.Stations)
	assert.Equal(t, 2, st.MarketFacts)
	assert.Equal(t, 1, st.StatusFacts)
	assert.Equal(t, 1, st.CooldownMarks)
}
