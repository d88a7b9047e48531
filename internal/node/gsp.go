package node

import (
	"encoding/binary"

	"github.com/alexhholmes/gbptree/internal/base"
	"github.com/alexhholmes/gbptree/internal/generation"
)

// Generation safe pointers.
//
// A GSP is a (page id, generation) slot. A GSPP is two of them: the writer
// redirects a pointer in a page it may not otherwise touch (a page that is
// part of the last checkpoint) by writing into the slot the checkpointed
// state does not use, so the checkpointed meaning survives a crash while
// readers of the current generation follow the new target.

// Pointer is one decoded GSP slot.
type Pointer struct {
	ID         base.PageID
	Generation uint64
}

func readGSP(p []byte, off int) Pointer {
	return Pointer{
		ID:         base.PageID(binary.LittleEndian.Uint64(p[off:])),
		Generation: binary.LittleEndian.Uint64(p[off+8:]),
	}
}

func writeGSP(p []byte, off int, ptr Pointer) {
	binary.LittleEndian.PutUint64(p[off:], uint64(ptr.ID))
	binary.LittleEndian.PutUint64(p[off+8:], ptr.Generation)
}

// readGSPP returns the valid slot with the highest generation.
func readGSPP(p []byte, off int, gens generation.Generations) (Pointer, bool) {
	a, b := readGSP(p, off), readGSP(p, off+base.GSPSize)
	aok, bok := gens.Valid(a.Generation), gens.Valid(b.Generation)
	switch {
	case aok && bok:
		if b.Generation > a.Generation {
			return b, true
		}
		return a, true
	case aok:
		return a, true
	case bok:
		return b, true
	}
	return Pointer{}, false
}

// writeGSPP stores id stamped with the unstable generation. It overwrites the
// slot already written this generation, else an invalid slot, else the older
// of the two.
func writeGSPP(p []byte, off int, id base.PageID, gens generation.Generations) {
	a, b := readGSP(p, off), readGSP(p, off+base.GSPSize)
	slot := off
	switch {
	case a.Generation == gens.Unstable:
	case b.Generation == gens.Unstable:
		slot = off + base.GSPSize
	case !gens.Valid(a.Generation):
	case !gens.Valid(b.Generation):
		slot = off + base.GSPSize
	case b.Generation < a.Generation:
		slot = off + base.GSPSize
	}
	writeGSP(p, slot, Pointer{ID: id, Generation: gens.Unstable})
}

// resetGSPP keeps only the currently valid target, written as this
// generation's slot.
func resetGSPP(p []byte, off int, gens generation.Generations) {
	ptr, _ := readGSPP(p, off, gens)
	clear(p[off : off+base.GSPPSize])
	writeGSP(p, off, Pointer{ID: ptr.ID, Generation: gens.Unstable})
}

// Successor returns the page that supersedes p, if one was installed.
func Successor(p []byte, gens generation.Generations) (base.PageID, bool) {
	ptr := readGSP(p, base.OffSuccessor)
	if ptr.ID == 0 || !gens.Valid(ptr.Generation) {
		return 0, false
	}
	return ptr.ID, true
}

// SetSuccessor records that id supersedes p from the unstable generation on.
func SetSuccessor(p []byte, id base.PageID, gens generation.Generations) {
	writeGSP(p, base.OffSuccessor, Pointer{ID: id, Generation: gens.Unstable})
}

// RightSibling returns the next leaf in key order, or 0.
func RightSibling(p []byte, gens generation.Generations) base.PageID {
	ptr, _ := readGSPP(p, base.OffRightSibling, gens)
	return ptr.ID
}

// LeftSibling returns the previous leaf in key order, or 0.
func LeftSibling(p []byte, gens generation.Generations) base.PageID {
	ptr, _ := readGSPP(p, base.OffLeftSibling, gens)
	return ptr.ID
}

func SetRightSibling(p []byte, id base.PageID, gens generation.Generations) {
	writeGSPP(p, base.OffRightSibling, id, gens)
}

func SetLeftSibling(p []byte, id base.PageID, gens generation.Generations) {
	writeGSPP(p, base.OffLeftSibling, id, gens)
}

// PrepareCopy turns a byte copy of a page into a fresh page of the unstable
// generation: no successor, sibling pairs collapsed to their current target.
func PrepareCopy(p []byte, gens generation.Generations) {
	clear(p[base.OffSuccessor : base.OffSuccessor+base.GSPSize])
	resetGSPP(p, base.OffRightSibling, gens)
	resetGSPP(p, base.OffLeftSibling, gens)
	SetGeneration(p, gens.Unstable)
}

// CleanCrashPointers zeroes every pointer slot stamped with a crash
// generation. It reports whether the page changed.
func CleanCrashPointers(p []byte, gens generation.Generations) bool {
	changed := false
	for _, off := range [...]int{
		base.OffSuccessor,
		base.OffRightSibling, base.OffRightSibling + base.GSPSize,
		base.OffLeftSibling, base.OffLeftSibling + base.GSPSize,
	} {
		if gens.Crash(readGSP(p, off).Generation) {
			clear(p[off : off+base.GSPSize])
			changed = true
		}
	}
	return changed
}
