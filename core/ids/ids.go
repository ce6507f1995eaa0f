// Package ids defines the opaque arena-index types shared across the
// compiler and runtime: every cross-reference in the IR and schedule is an
// index into a dense arena rather than a pointer, which keeps the
// structures trivially comparable, loggable, and free of aliasing bugs.
package ids

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ValueExprId indexes a node in the ValueExpr arena.
type ValueExprId uint32

// ValueSlot indexes a typed storage location in ProgramState.values.
type ValueSlot uint32

// StateSlot indexes a persistent-state cell, stable across recompiles
// modulo StableStateId migration.
type StateSlot uint32

// EventSlot indexes a per-frame event scalar/list cell.
type EventSlot uint32

// InstanceID is the schedule-assigned identity of one instance occurrence
// within a compiled program — distinct from the domain-level InstanceRef
// that names *which* domain type/instance it is.
type InstanceID string

// StableStateId is a deterministic identifier for persistent state,
// derived from (blockId, logical state key), that survives recompilation
// so hot-swap can migrate values across compiles (see runtime state
// migration).
type StableStateId string

// DeriveStableStateId computes the deterministic id for a block's logical
// state key. The id is "blockID:logicalKey#" followed by the hex of a
// keyless blake2b-128 hash over blockID, a zero byte and logicalKey, so it
// stays readable and grows with the length of blockID/logicalKey.
func DeriveStableStateId(blockID, logicalKey string) StableStateId {
	h, _ := blake2b.New(16, nil)
	_, _ = h.Write([]byte(blockID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(logicalKey))
	sum := h.Sum(nil)
	return StableStateId(blockID + ":" + logicalKey + "#" + hex.EncodeToString(sum))
}
