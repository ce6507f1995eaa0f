package invariant_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fieldgraph/engine/core/invariant"
)

func TestPreconditionPass(t *testing.T) {
	// Should not panic: mirrors the bounds check core/ir.Builder actually
	// runs before indexing its arena.
	arena := make([]int, 4)
	id := 2
	invariant.Precondition(id < len(arena), "value expr id %d out of range", id)
}

func TestPreconditionFail(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for false precondition")
		}
		msg := fmt.Sprintf("%v", r)
		if !strings.Contains(msg, "PRECONDITION VIOLATION") {
			t.Errorf("expected PRECONDITION VIOLATION, got: %s", msg)
		}
		if !strings.Contains(msg, "value expr id 9 out of range") {
			t.Errorf("expected custom message, got: %s", msg)
		}
		if !strings.Contains(msg, "at ") {
			t.Errorf("expected stack trace context, got: %s", msg)
		}
	}()

	arena := make([]int, 4)
	id := 9
	invariant.Precondition(id < len(arena), "value expr id %d out of range", id)
}

func TestPostconditionPass(t *testing.T) {
	buf := []float64{1, 2, 3}
	requested := 3
	invariant.Postcondition(len(buf) == requested, "buffer count %d does not match requested %d", len(buf), requested)
}

func TestPostconditionFail(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for false postcondition")
		}
		msg := fmt.Sprintf("%v", r)
		if !strings.Contains(msg, "POSTCONDITION VIOLATION") {
			t.Errorf("expected POSTCONDITION VIOLATION, got: %s", msg)
		}
		if !strings.Contains(msg, "buffer count 2 does not match requested 3") {
			t.Errorf("expected custom message, got: %s", msg)
		}
	}()

	buf := []float64{1, 2}
	requested := 3
	invariant.Postcondition(len(buf) == requested, "buffer count %d does not match requested %d", len(buf), requested)
}

func TestInvariantPass(t *testing.T) {
	// Frame ids must strictly increase, as runtime/executor.RunFrame checks.
	prevFrameID, frameID := uint64(40), uint64(41)
	invariant.Invariant(frameID > prevFrameID, "frame id must strictly increase")
}

func TestInvariantFail(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for false invariant")
		}
		msg := fmt.Sprintf("%v", r)
		if !strings.Contains(msg, "INVARIANT VIOLATION") {
			t.Errorf("expected INVARIANT VIOLATION, got: %s", msg)
		}
		if !strings.Contains(msg, "frame id must strictly increase") {
			t.Errorf("expected custom message, got: %s", msg)
		}
	}()

	prevFrameID, frameID := uint64(41), uint64(41)
	invariant.Invariant(frameID > prevFrameID, "frame id must strictly increase")
}

func TestNotNilPass(t *testing.T) {
	pool := &struct{}{}
	invariant.NotNil(pool, "executor pool")

	var iface interface{ constraint() } = testConstraint{}
	invariant.NotNil(iface, "constraint")
}

type testConstraint struct{}

func (testConstraint) constraint() {}

func TestNotNilFail(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for nil value")
		}
		msg := fmt.Sprintf("%v", r)
		if !strings.Contains(msg, "PRECONDITION VIOLATION") {
			t.Errorf("expected PRECONDITION VIOLATION, got: %s", msg)
		}
		if !strings.Contains(msg, "constraint must not be nil") {
			t.Errorf("expected 'constraint must not be nil', got: %s", msg)
		}
	}()

	var c interface{ constraint() }
	invariant.NotNil(c, "constraint")
}

func TestInRangePass(t *testing.T) {
	stateLen := 10
	invariant.InRange(5, 0, stateLen-1, "state write slot")
	invariant.InRange(0, 0, stateLen-1, "state write slot")
	invariant.InRange(stateLen-1, 0, stateLen-1, "state write slot")
}

func TestInRangeFail(t *testing.T) {
	tests := []struct {
		name string
		slot int
	}{
		{"negative", -1},
		{"past_end", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected panic for out of range value")
				}
				msg := fmt.Sprintf("%v", r)
				if !strings.Contains(msg, "PRECONDITION VIOLATION") {
					t.Errorf("expected PRECONDITION VIOLATION, got: %s", msg)
				}
				if !strings.Contains(msg, "must be in range") {
					t.Errorf("expected range message, got: %s", msg)
				}
				if !strings.Contains(msg, fmt.Sprintf("got %d", tt.slot)) {
					t.Errorf("expected actual value %d in message, got: %s", tt.slot, msg)
				}
			}()

			invariant.InRange(tt.slot, 0, 9, "state write slot")
		})
	}
}

func TestPositivePass(t *testing.T) {
	invariant.Positive(1, "maxKeys")
	invariant.Positive(64, "maxKeys")
}

func TestPositiveFail(t *testing.T) {
	tests := []struct {
		name  string
		value int
	}{
		{"zero", 0},
		{"negative", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected panic for non-positive value")
				}
				msg := fmt.Sprintf("%v", r)
				if !strings.Contains(msg, "POSTCONDITION VIOLATION") {
					t.Errorf("expected POSTCONDITION VIOLATION, got: %s", msg)
				}
				if !strings.Contains(msg, "must be positive") {
					t.Errorf("expected 'must be positive', got: %s", msg)
				}
				if !strings.Contains(msg, fmt.Sprintf("got %d", tt.value)) {
					t.Errorf("expected actual value %d in message, got: %s", tt.value, msg)
				}
			}()

			invariant.Positive(tt.value, "maxKeys")
		})
	}
}

func TestFormattedMessages(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		msg := fmt.Sprintf("%v", r)
		if !strings.Contains(msg, "frame 42") {
			t.Errorf("expected formatted frame id, got: %s", msg)
		}
		if !strings.Contains(msg, "slot 7") {
			t.Errorf("expected formatted slot, got: %s", msg)
		}
	}()

	frame, slot := 42, 7
	invariant.Invariant(false, "frame %d wrote out of range slot %d", frame, slot)
}

func TestStackTraceContext(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		msg := fmt.Sprintf("%v", r)

		if !strings.Contains(msg, "at ") {
			t.Errorf("expected 'at' in stack trace, got: %s", msg)
		}
		if !strings.Contains(msg, "invariant_test.go:") {
			t.Errorf("expected file:line in stack trace, got: %s", msg)
		}
	}()

	invariant.Precondition(false, "test stack trace")
}

// Example usage in a function with contracts, mirroring the arena bounds
// check core/ir.Builder runs on every node lookup.
func ExamplePrecondition() {
	lookup := func(arena []int, id int) int {
		invariant.Precondition(id >= 0 && id < len(arena), "value expr id %d out of range", id)
		return arena[id]
	}

	fmt.Println(lookup([]int{10, 20, 30}, 1))
	// Output: 20
}

// Example usage with loop invariant, mirroring the strictly-increasing
// frame id runtime/executor.RunFrame checks every frame.
func ExampleInvariant() {
	advanceFrames := func(count int) {
		prevFrameID := uint64(0)
		for i := 0; i < count; i++ {
			frameID := prevFrameID + 1
			invariant.Invariant(frameID > prevFrameID, "frame id must strictly increase")
			fmt.Println("frame:", frameID)
			prevFrameID = frameID
		}
	}

	advanceFrames(3)
	// Output:
	// frame: 1
	// frame: 2
	// frame: 3
}

// Example usage with postcondition, mirroring the buffer-pool reuse check
// runtime/materialize.Pool.Alloc runs on every allocation.
func ExamplePostcondition() {
	alloc := func(requested int) int {
		count := requested // Simulate a correctly-resized pooled buffer

		invariant.Postcondition(count == requested, "buffer count %d does not match requested %d", count, requested)
		return count
	}

	count := alloc(8)
	fmt.Println("allocated count:", count)
	// Output: allocated count: 8
}
