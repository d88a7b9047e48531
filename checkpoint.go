package gbptree

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/gbptree/internal/base"
)

// CheckpointRecord identifies a checkpoint. A durability log keeps the last
// one it was flushed for and passes it to Recover after a crash.
type CheckpointRecord struct {
	Root     PageID
	Stable   uint64
	LayoutID uint64
	PageSize int
}

// Checkpoint makes every change written so far durable and returns the
// record describing it. It waits for the writer to close and, before writing
// any page, for the configured Durability to flush the unstable generation.
//
// On failure nothing on disk refers to the pages written and the generations
// stay as they were; the changes are checkpointed by the next attempt.
func (t *Tree[K, V]) Checkpoint(ctx context.Context) (CheckpointRecord, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return CheckpointRecord{}, ErrClosed
	}
	return t.checkpoint(ctx, false)
}

// checkpoint runs with writeMu held. clean marks the record written by Close.
func (t *Tree[K, V]) checkpoint(ctx context.Context, clean bool) (CheckpointRecord, error) {
	start := time.Now()
	gens := t.gens.Load()
	pageSize := t.store.PageSize()

	if err := t.opts.durability.Flush(ctx, gens.Unstable); err != nil {
		err = errors.Wrapf(err, "flush durability log for generation %d", gens.Unstable)
		t.log.Error("checkpoint failed", "generation", gens.Unstable, "error", err)
		return CheckpointRecord{}, err
	}

	// The free list goes to fresh pages so the previous record stays intact
	// until the new one is written.
	n := t.fl.PagesNeeded(pageSize, len(t.flRun))
	first := t.fl.AllocateRun(n)
	run := make([]base.PageID, n)
	for i := range run {
		run[i] = first + base.PageID(i)
	}
	fail := func(err error) (CheckpointRecord, error) {
		t.fl.Free(gens.Unstable, run...)
		t.log.Error("checkpoint failed", "generation", gens.Unstable, "error", err)
		return CheckpointRecord{}, err
	}

	buf := t.fl.Encode(pageSize, n, gens.Unstable, t.flRun)
	if err := t.store.WritePages(first, buf); err != nil {
		return fail(errors.Wrapf(err, "write free list pages %d..%d", first, first+base.PageID(n-1)))
	}
	flushed, err := t.cache.Flush()
	if err != nil {
		return fail(err)
	}
	if err := t.sync(); err != nil {
		return fail(err)
	}

	meta := base.Meta{
		PageSize:      uint32(pageSize),
		LayoutID:      t.layout.Identifier(),
		Root:          base.PageID(t.root.Load()),
		Stable:        gens.Unstable,
		Unstable:      gens.Unstable + 1,
		NumPages:      t.fl.NumPages(),
		FreelistID:    first,
		FreelistPages: uint64(n),
		Sequence:      t.meta.Sequence + 1,
		Clean:         clean,
	}
	if err := t.writeMeta(meta); err != nil {
		return fail(err)
	}
	t.meta = meta

	next := t.gens.Advance()
	t.fl.Free(gens.Unstable, t.flRun...)
	t.flRun = run
	released := t.fl.Release(min(next.Stable+1, t.readers.MinGeneration()))

	t.log.Info("checkpoint",
		"generation", next.Stable,
		"root", meta.Root,
		"pagesFlushed", flushed,
		"freelistPages", n,
		"released", released,
		"clean", clean,
		"duration", time.Since(start))

	return CheckpointRecord{
		Root:     meta.Root,
		Stable:   meta.Stable,
		LayoutID: meta.LayoutID,
		PageSize: pageSize,
	}, nil
}
