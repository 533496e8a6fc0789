package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wbrown/cohortx/table"
	"github.com/wbrown/cohortx/timeref"
)

func newTable(t *testing.T, rows []table.Row) table.PredicateTable {
	mt, err := table.NewMemTable(rows)
	require.NoError(t, err)
	return mt
}

func TestTemporal_RollingSumInclusiveBothEnds(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: base, Counts: map[string]int64{"_ANY_EVENT": 1, "admission": 1}},
		{SubjectID: 1, Timestamp: base.Add(12 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(24 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(30 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
	}
	pt := newTable(t, rows)
	delta, err := timeref.ParseDuration("24h")
	require.NoError(t, err)

	out := Temporal(pt, delta, true, true, []AnchorRow{{SubjectID: 1, Anchor: base}})
	require.Len(t, out, 1)
	require.Equal(t, int64(3), out[0].Count("_ANY_EVENT"))
	require.Equal(t, base, out[0].Anchor)
}

func TestTemporal_ExclusiveRightBoundary(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: base, Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(24 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
	}
	pt := newTable(t, rows)
	delta, err := timeref.ParseDuration("24h")
	require.NoError(t, err)

	out := Temporal(pt, delta, true, false, []AnchorRow{{SubjectID: 1, Anchor: base}})
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].Count("_ANY_EVENT"))
}

func TestEventBound_NextFindsMatchAndSumsBetween(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: base, Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(1 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1, "spo2_low": 0}},
		{SubjectID: 1, Timestamp: base.Add(3 * 24 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1, "spo2_low": 1}},
	}
	pt := newTable(t, rows)

	out := EventBound(pt, timeref.EndpointNext, "spo2_low", true, true, 0, []AnchorRow{{SubjectID: 1, Anchor: base}})
	require.Len(t, out, 1)
	require.Equal(t, base.Add(3*24*time.Hour), out[0].Anchor)
	require.Equal(t, int64(3), out[0].Count("_ANY_EVENT"))
}

func TestEventBound_NoMatchDropsAnchor(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: base, Counts: map[string]int64{"_ANY_EVENT": 1}},
	}
	pt := newTable(t, rows)
	out := EventBound(pt, timeref.EndpointNext, "death", true, true, 0, []AnchorRow{{SubjectID: 1, Anchor: base}})
	require.Empty(t, out)
}

func TestOpenEnded_EndSideSumsToLastEvent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: base, Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(1 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(48 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
	}
	pt := newTable(t, rows)

	out := OpenEnded(pt, timeref.SideEnd, true, true, []AnchorRow{{SubjectID: 1, Anchor: base.Add(1 * time.Hour)}})
	require.Len(t, out, 1)
	require.Equal(t, int64(2), out[0].Count("_ANY_EVENT"))
}

func TestOpenEnded_StartSideSumsFromFirstEvent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: base, Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(1 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
		{SubjectID: 1, Timestamp: base.Add(48 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1}},
	}
	pt := newTable(t, rows)

	out := OpenEnded(pt, timeref.SideStart, true, true, []AnchorRow{{SubjectID: 1, Anchor: base.Add(1 * time.Hour)}})
	require.Len(t, out, 1)
	require.Equal(t, int64(2), out[0].Count("_ANY_EVENT"))
}

func TestEventBound_TieAnchorNotOwnChildWhenExclusive(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: base, Counts: map[string]int64{"_ANY_EVENT": 1, "discharge": 1}},
		{SubjectID: 1, Timestamp: base.Add(24 * time.Hour), Counts: map[string]int64{"_ANY_EVENT": 1, "discharge": 1}},
	}
	pt := newTable(t, rows)

	out := EventBound(pt, timeref.EndpointNext, "discharge", false, true, 0, []AnchorRow{{SubjectID: 1, Anchor: base}})
	require.Len(t, out, 1)
	require.Equal(t, base.Add(24*time.Hour), out[0].Anchor)
}
