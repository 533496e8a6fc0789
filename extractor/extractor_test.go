package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/config"
	"github.com/wbrown/cohortx/table"
)

func mustCompile(t *testing.T, doc string) *config.TaskConfig {
	t.Helper()
	cfg, _, err := config.Compile([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func row(subject int64, ts time.Time, counts map[string]int64) table.Row {
	c := map[string]int64{"_ANY_EVENT": 1}
	for k, v := range counts {
		c[k] = v
	}
	return table.Row{SubjectID: subject, Timestamp: ts, Counts: c}
}

func mustTable(t *testing.T, rows []table.Row) table.PredicateTable {
	t.Helper()
	mt, err := table.NewMemTable(rows)
	require.NoError(t, err)
	return mt
}

// Scenario A (spec §8): in-hospital mortality, has constraint not met.
func TestRun_ScenarioA_HasConstraintFails(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  death:
    code: DEATH
trigger: admission
windows:
  target:
    start: NULL
    end: trigger + 24h
    has:
      _ANY_EVENT: "(5, None)"
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1}),
		row(1, base.Add(12*time.Hour), nil),
		row(1, base.Add(30*time.Hour), nil),
		row(1, base.Add(72*time.Hour), map[string]int64{"death": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

// Scenario A, second half: enough events up to trigger+72h to satisfy has.
func TestRun_ScenarioA_HasConstraintSatisfied(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  death:
    code: DEATH
trigger: admission
windows:
  target:
    start: NULL
    end: trigger + 72h
    has:
      _ANY_EVENT: "(5, None)"
    label: death
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1}),
		row(1, base.Add(4*time.Hour), nil),
		row(1, base.Add(8*time.Hour), nil),
		row(1, base.Add(12*time.Hour), nil),
		row(1, base.Add(72*time.Hour), map[string]int64{"death": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].SubjectID)
	require.Equal(t, base, out[0].Trigger)
	require.Equal(t, int64(1), out[0].Windows["target"].Count("death"))
	require.Equal(t, base.Add(72*time.Hour), out[0].Windows["target"].End)
}

// Scenario B (spec §8): gap/target chain, no gap violation.
func TestRun_ScenarioB_GapTargetChain(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  death:
    code: DEATH
trigger: admission
windows:
  gap:
    start: trigger
    end: trigger + 2h
  target:
    start: gap.end
    end: gap.end + 24h
    label: death
    index_timestamp: end
`)
	rows := []table.Row{
		row(2, base, map[string]int64{"admission": 1}),
		row(2, base.Add(10*time.Hour), map[string]int64{"death": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, base.Add(2*time.Hour), out[0].Windows["gap"].End)
	require.Equal(t, int64(1), out[0].Windows["target"].Count("death"))
}

// Scenario C (spec §8): abnormal SpO2 via chained fixed-offset windows.
func TestRun_ScenarioC_AbnormalSpO2(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  normal_spo2:
    code: SPO2_NORMAL
  spo2:
    code: SPO2_LOW
trigger: normal_spo2
windows:
  gap:
    start: trigger
    end: trigger + 24h
    start_inclusive: false
    end_inclusive: true
  target:
    start: gap.end
    end: gap.end + 7d
    start_inclusive: false
    end_inclusive: true
    has:
      spo2: "(1, None)"
    label: spo2
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"normal_spo2": 1}),
		row(1, base.Add(3*24*time.Hour), map[string]int64{"spo2": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].Windows["target"].Count("spo2"))
}

// Scenario D (spec §8): empty trigger yields empty, non-fatal result.
func TestRun_ScenarioD_EmptyTrigger(t *testing.T) {
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
trigger: admission
windows:
  target:
    start: NULL
    end: trigger + 24h
`)
	rows := []table.Row{
		{SubjectID: 1, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Counts: map[string]int64{"_ANY_EVENT": 1}},
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.Error(t, err)
	require.True(t, cohorterr.IsEmptyInput(err))
	require.Empty(t, out)
}

// Scenario E (spec §8): event-bound tie at the anchor's own timestamp;
// start_inclusive=false means the anchor cannot match its own boundary
// predicate.
func TestRun_ScenarioE_EventBoundTieExcluded(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  discharge:
    code: DISCHARGE
trigger: admission
windows:
  target:
    start: trigger -> discharge
    end: target.start + 1h
    start_inclusive: false
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1, "discharge": 1}),
		row(1, base.Add(24*time.Hour), map[string]int64{"discharge": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, base.Add(24*time.Hour), out[0].Windows["target"].Start)
}

// Scenario F (spec §8): two sibling windows off the trigger; a subject
// satisfying only one produces no row (inner join semantics).
func TestRun_ScenarioF_SiblingInnerJoinFails(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  labA:
    code: LAB_A
  labB:
    code: LAB_B
trigger: admission
windows:
  branchA:
    start: trigger
    end: trigger + 24h
    has:
      labA: "(1, None)"
  branchB:
    start: trigger
    end: trigger + 24h
    has:
      labB: "(1, None)"
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1, "labA": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

// Scenario G (SPEC_FULL.md §C.5): a patient_demographics predicate is
// static (one row per subject, no timestamp) but must still count toward
// every window's has() check, not just the window containing its own
// (nonexistent) timestamp.
func TestRun_ScenarioG_StaticPredicateFeedsHasAcrossWindows(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  labA:
    code: LAB_A
patient_demographics:
  sex_male:
    code: SEX_MALE
trigger: admission
windows:
  early:
    start: trigger
    end: trigger + 24h
    has:
      sex_male: "(1, None)"
  late:
    start: early.end
    end: early.end + 24h
    has:
      sex_male: "(1, None)"
      labA: "(1, None)"
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1}),
		row(1, base.Add(30*time.Hour), map[string]int64{"labA": 1}),
		{SubjectID: 1, Static: true, Counts: map[string]int64{"sex_male": 1}},
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Contains(t, out[0].Windows, "early")
	require.Contains(t, out[0].Windows, "late")
	require.Equal(t, int64(1), out[0].Windows["late"].Count("sex_male"))
}

// A subject with no static row at all (sex_male count 0) fails a has()
// constraint on that predicate.
func TestRun_ScenarioG_MissingStaticRowFailsHas(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
patient_demographics:
  sex_male:
    code: SEX_MALE
trigger: admission
windows:
  target:
    start: trigger
    end: trigger + 24h
    has:
      sex_male: "(1, None)"
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRun_ScenarioF_BothBranchesSatisfied(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  labA:
    code: LAB_A
  labB:
    code: LAB_B
trigger: admission
windows:
  branchA:
    start: trigger
    end: trigger + 24h
    has:
      labA: "(1, None)"
  branchB:
    start: trigger
    end: trigger + 24h
    has:
      labB: "(1, None)"
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1, "labA": 1, "labB": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Contains(t, out[0].Windows, "branchA")
	require.Contains(t, out[0].Windows, "branchB")
}

// A window can anchor on another window's anchor-side boundary directly
// (here "early" anchors on "gap.start", not "gap.end"); the walk must fan
// out from that boundary too, not only the dependent side (spec §4.3's
// node unification taken literally).
func anchorSideReferenceConfig() string {
	return `
predicates:
  admission:
    code: ADMIT
  priorlab:
    code: PRIOR_LAB
trigger: admission
windows:
  gap:
    start: trigger
    end: trigger + 2h
  early:
    start: gap.start - 1h
    end: gap.start
    has:
      priorlab: "(1, None)"
`
}

func TestRun_AnchorSideReference_Satisfied(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, anchorSideReferenceConfig())
	rows := []table.Row{
		row(1, base.Add(-30*time.Minute), map[string]int64{"priorlab": 1}),
		row(1, base, map[string]int64{"admission": 1}),
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Contains(t, out[0].Windows, "gap")
	require.Contains(t, out[0].Windows, "early")
	require.Equal(t, base.Add(-1*time.Hour), out[0].Windows["early"].Start)
	require.Equal(t, base, out[0].Windows["early"].End)
	require.Equal(t, int64(1), out[0].Windows["early"].Count("priorlab"))
}

func TestRun_AnchorSideReference_FailsHasDropsRealization(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, anchorSideReferenceConfig())
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1}), // no priorlab in [t0-1h, t0]
	}
	pt := mustTable(t, rows)

	out, err := Run(cfg, pt, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

// End-to-end: the extractor is engine-agnostic (spec §9) and must run
// unmodified over a badger-backed table.DiskStore, not only table.MemTable.
func TestRun_OverDiskBackedTable(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := mustCompile(t, `
predicates:
  admission:
    code: ADMIT
  death:
    code: DEATH
trigger: admission
windows:
  target:
    start: NULL
    end: trigger + 72h
    has:
      _ANY_EVENT: "(5, None)"
    label: death
`)
	rows := []table.Row{
		row(1, base, map[string]int64{"admission": 1}),
		row(1, base.Add(4*time.Hour), nil),
		row(1, base.Add(8*time.Hour), nil),
		row(1, base.Add(12*time.Hour), nil),
		row(1, base.Add(72*time.Hour), map[string]int64{"death": 1}),
	}

	ds, err := table.OpenDiskStore(t.TempDir())
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.Load(rows))

	out, err := Run(cfg, ds, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].Windows["target"].Count("death"))
}
