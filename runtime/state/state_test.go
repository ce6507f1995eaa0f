package state

import (
	"testing"

	"github.com/fieldgraph/engine/core/ids"
	"github.com/fieldgraph/engine/core/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalChannelsDoubleBuffer(t *testing.T) {
	c := NewExternalChannels()
	c.Stage("x", 5)
	assert.Equal(t, 0.0, c.Get("x"), "staged value must not be visible before Commit")

	c.Commit()
	assert.Equal(t, 5.0, c.Get("x"))
	assert.Equal(t, 0.0, c.Get("unknown"))
}

func TestExternalChannelsCommitIsSnapshot(t *testing.T) {
	c := NewExternalChannels()
	c.Stage("x", 1)
	c.Commit()
	c.Stage("x", 2) // staged mid-frame, must not perturb this frame's reads
	assert.Equal(t, 1.0, c.Get("x"))
	c.Commit()
	assert.Equal(t, 2.0, c.Get("x"))
}

func TestResolveTimeComputesDt(t *testing.T) {
	var ts TimeState
	model := schedule.TimeModel{Kind: schedule.TimeInfinite}

	ft := ts.ResolveTime(100, model)
	assert.Equal(t, 0.0, ft.Dt, "first frame has no prior sample")

	ft = ts.ResolveTime(116, model)
	assert.InDelta(t, 16.0, ft.Dt, 1e-9)
}

func TestResolveTimeClampsFiniteProgress(t *testing.T) {
	var ts TimeState
	model := schedule.TimeModel{Kind: schedule.TimeFinite, Duration: 1000}

	ft := ts.ResolveTime(500, model)
	assert.InDelta(t, 500.0, ft.Progress, 1e-9)

	ft = ts.ResolveTime(5000, model)
	assert.InDelta(t, 1000.0, ft.Progress, 1e-9)
}

func TestProgramStateResetFramePreservesPrevPredicate(t *testing.T) {
	ps := NewProgramState(0, 0, 2, 4)
	ps.EventScalars[0] = 1
	ps.EventPrevPredicate[0] = 1
	ps.Events[0] = []EventOccurrence{{Key: "a", Value: 1}}

	ps.ResetFrame(1)

	assert.Equal(t, byte(0), ps.EventScalars[0])
	assert.Equal(t, byte(1), ps.EventPrevPredicate[0], "prev predicate carries across frames for edge detection")
	assert.Empty(t, ps.Events)
	assert.Equal(t, uint64(1), ps.Cache.FrameID)
}

func TestMigrateCarriesSharedStateDropsOrphansSeedsNew(t *testing.T) {
	oldMappings := map[ids.StableStateId]StateMapping{
		"shared": {SlotIndex: 0},
		"dying":  {SlotIndex: 1},
	}
	newMappings := map[ids.StableStateId]StateMapping{
		"shared": {SlotIndex: 0},
		"fresh":  {SlotIndex: 1},
	}
	old := []float64{42, 99}
	initials := map[ids.StableStateId]float64{"fresh": 7}

	next := Migrate(old, oldMappings, newMappings, 2, initials)

	require.Len(t, next, 2)
	assert.Equal(t, 42.0, next[0], "shared state must migrate by StableStateId")
	assert.Equal(t, 7.0, next[1], "new-only state must seed from its initial value")
}
