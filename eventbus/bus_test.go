package eventbus

import (
	"testing"

	"github.com/fieldgraph/engine/runtime/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesOnlyItsType(t *testing.T) {
	b := New()
	var gotCommit, gotSwap int
	Subscribe(b, func(GraphCommitted) { gotCommit++ })
	Subscribe(b, func(ProgramSwapped) { gotSwap++ })

	errs := Publish(b, GraphCommitted{PatchID: "p1", PatchRevision: 1})
	require.Empty(t, errs)
	assert.Equal(t, 1, gotCommit)
	assert.Equal(t, 0, gotSwap)
}

func TestSubscribeAnyRunsAfterTypedListeners(t *testing.T) {
	b := New()
	var order []string
	Subscribe(b, func(CompileBegin) { order = append(order, "typed") })
	SubscribeAny(b, func(any) { order = append(order, "any") })

	errs := Publish(b, CompileBegin{CompileID: "c1"})
	require.Empty(t, errs)
	assert.Equal(t, []string{"typed", "any"}, order)
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	b := New()
	count := 0
	tok := Subscribe(b, func(GraphCommitted) { count++ })

	Publish(b, GraphCommitted{})
	b.Unsubscribe(tok)
	Publish(b, GraphCommitted{})

	assert.Equal(t, 1, count)
}

func TestUnsubscribeUnknownTokenIsNoOp(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Unsubscribe(Token(999)) })
}

func TestPublishIsolatesPanickingListener(t *testing.T) {
	b := New()
	var secondRan bool
	Subscribe(b, func(CompileEnd) { panic("boom") })
	Subscribe(b, func(CompileEnd) { secondRan = true })

	errs := Publish(b, CompileEnd{CompileID: "c1", Status: "ok"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "boom")
	assert.True(t, secondRan, "a panicking listener must not suppress its siblings")
}

func TestHealthSnapshotFromStateCopiesFields(t *testing.T) {
	h := state.HealthState{
		FPSEstimate:           59.9,
		AvgFrameMs:            16.7,
		FieldMaterializations: 42,
		NaNCount:              1,
		InfCount:              0,
	}
	snap := HealthSnapshotFromState(1000, h)
	assert.Equal(t, 1000.0, snap.TMs)
	assert.Equal(t, 59.9, snap.FrameBudget.FPSEstimate)
	assert.Equal(t, uint64(42), snap.EvalStats.FieldMaterializations)
}
