package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDiskStore_RoundTripsRowsAndStaticCounts(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds, err := OpenDiskStore(t.TempDir())
	require.NoError(t, err)
	defer ds.Close()

	err = ds.Load([]Row{
		mkRow(1, base, map[string]int64{"admission": 1}),
		mkRow(1, base.Add(2*time.Hour), map[string]int64{"death": 1}),
		mkRow(2, base, map[string]int64{"admission": 1}),
		{SubjectID: 1, Static: true, Counts: map[string]int64{"sex_male": 1}},
	})
	require.NoError(t, err)

	require.Equal(t, []int64{1, 2}, ds.Subjects())

	rows := ds.Rows(1)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Timestamp.Before(rows[1].Timestamp))
	require.Equal(t, int64(1), rows[0].Counts["admission"])
	require.Equal(t, int64(1), rows[1].Counts["death"])

	require.Len(t, ds.Rows(2), 1)

	require.Equal(t, int64(1), ds.StaticCounts(1)["sex_male"])
	require.Empty(t, ds.StaticCounts(2))

	require.ElementsMatch(t, []string{"_ANY_EVENT", "admission", "death"}, ds.Predicates())
}

func TestDiskStore_SatisfiesPredicateTableInterface(t *testing.T) {
	ds, err := OpenDiskStore(t.TempDir())
	require.NoError(t, err)
	defer ds.Close()

	var pt PredicateTable = ds
	require.Empty(t, pt.Subjects())
}
