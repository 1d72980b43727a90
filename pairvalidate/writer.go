// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/realign/encoding/spill"
)

type phase int

const (
	// collecting accepts Add calls.
	collecting phase = iota
	// resolving joins the spilled candidates.
	resolving
	// done accepts nothing.
	done
)

func (p phase) String() string {
	switch p {
	case collecting:
		return "collecting"
	case resolving:
		return "resolving"
	}
	return "done"
}

// Writer validates realigned placements against their mates, and
// writes every read exactly once to a RecordWriter.
//
// Add() may be called concurrently.  Flush() must be called once after
// all calls to Add() complete, and Close() must always be called to
// release the spill files, whether or not Flush() succeeded.
//
// Example:
//   w, err := pairvalidate.NewWriter(header, out, opts)
//   ...
//   defer w.Close()
//   for ... {
//     err = w.Add(updated, original)
//   }
//   stats, err := w.Flush(ctx)
type Writer struct {
	header   *sam.Header
	opts     Opts
	resolver Resolver
	store    *spill.Store
	sink     *sink

	mu    sync.RWMutex // Add holds it shared; phase changes hold it exclusively.
	phase phase

	// Collecting-phase counters, updated atomically.
	input, noChange, unmoved, notProperPair, candidates int64

	resolvedMu sync.Mutex
	resolved   Stats // resolving-phase counters.
}

// NewWriter creates a Writer that writes to out.  It returns an error if
// opts are invalid or the spill store cannot be created.
func NewWriter(header *sam.Header, out RecordWriter, opts Opts) (*Writer, error) {
	if err := validate(&opts); err != nil {
		return nil, errors.E(errors.Invalid, err)
	}
	store, err := spill.NewStore(header, spill.Opts{
		Dir:         opts.ScratchDir,
		Shards:      opts.SpillShards,
		MaxBuffered: opts.SpillBuffer,
		Codec:       opts.SpillCodec,
	})
	if err != nil {
		return nil, errors.E(err, "create spill store")
	}
	return &Writer{
		header: header,
		opts:   opts,
		resolver: Resolver{
			Oracle: Oracle{
				MinInsertLength: opts.MinInsertLength,
				MaxInsertLength: opts.MaxInsertLength,
			},
			MaxMateDistance: opts.MaxMateDistance,
		},
		store: store,
		sink:  newSink(out, opts.Normalizer),
	}, nil
}

// Add processes one read.  updated is the placement proposed by the
// realigner, or nil; original is the placement from the original
// mapper.  The read is either written right away or spilled until
// Flush().
func (w *Writer) Add(updated, original *sam.Record) error {
	if original == nil {
		return errors.E(errors.Invalid, "add: nil original record")
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.phase != collecting {
		return errors.E(errors.Precondition, "add", original.Name, "in phase", w.phase.String())
	}
	n := atomic.AddInt64(&w.input, 1)
	d, r, isUpdated := Classify(updated, original)
	switch d {
	case EmitNoChange:
		atomic.AddInt64(&w.noChange, 1)
	case EmitUnmoved:
		atomic.AddInt64(&w.unmoved, 1)
	case EmitNotProperPair:
		atomic.AddInt64(&w.notProperPair, 1)
	case Spill:
		atomic.AddInt64(&w.candidates, 1)
	}
	if d == Spill {
		c := spill.Candidate{Name: original.Name, Updated: updated, Original: spill.Resolved(original)}
		if err := w.store.Append(c); err != nil {
			return errors.E(err, "collecting: spill", original.Name)
		}
	} else if err := w.sink.emit(r, isUpdated); err != nil {
		return errors.E(err, "collecting")
	}
	if n%int64(w.opts.ProgressInterval) == 0 {
		log.Debug.Printf("pairvalidate: %d reads, nochange:%d unmoved:%d notproper:%d candidates:%d",
			n, atomic.LoadInt64(&w.noChange), atomic.LoadInt64(&w.unmoved),
			atomic.LoadInt64(&w.notProperPair), atomic.LoadInt64(&w.candidates))
	}
	return nil
}

// Flush ends the collecting phase, resolves every spilled candidate,
// closes the output and returns the run's stats.  Stats.Realigned is
// the number of reads whose realigned placement was kept.
func (w *Writer) Flush(ctx context.Context) (Stats, error) {
	w.mu.Lock()
	if w.phase != collecting {
		p := w.phase
		w.mu.Unlock()
		return Stats{}, errors.E(errors.Precondition, "flush in phase", p.String())
	}
	w.phase = resolving
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.phase = done
		w.mu.Unlock()
	}()

	if err := w.store.Finalize(); err != nil {
		return Stats{}, errors.E(err, "resolving: finalize spill store")
	}
	t0 := time.Now()
	log.Debug.Printf("pairvalidate: resolving %d candidates in %d partitions",
		w.store.Len(), w.store.NumPartitions())
	err := traverse.Limit(w.opts.Parallelism).Each(w.store.NumPartitions(), func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return w.resolvePartition(i)
	})
	if err != nil {
		return Stats{}, err
	}
	log.Debug.Printf("pairvalidate: resolved candidates in %v", time.Since(t0))

	stats := w.collect()
	if err := w.sink.flush(&stats); err != nil {
		return stats, err
	}
	if stats.Emitted != stats.Input {
		return stats, errors.E(errors.Integrity,
			fmt.Sprintf("pairvalidate: wrote %d reads, received %d", stats.Emitted, stats.Input))
	}
	log.Printf("pairvalidate: %v", stats)
	return stats, nil
}

// Close releases the spill files.  It may be called in any phase, and
// more than once.  Add() fails after Close().
func (w *Writer) Close() error {
	w.mu.Lock()
	w.phase = done
	w.mu.Unlock()
	return w.store.Close()
}

func (w *Writer) collect() Stats {
	w.resolvedMu.Lock()
	stats := w.resolved
	w.resolvedMu.Unlock()
	stats.Input = int(atomic.LoadInt64(&w.input))
	stats.NoChange = int(atomic.LoadInt64(&w.noChange))
	stats.Unmoved = int(atomic.LoadInt64(&w.unmoved))
	stats.NotProperPair = int(atomic.LoadInt64(&w.notProperPair))
	stats.Candidates = int(atomic.LoadInt64(&w.candidates))
	return stats
}

func (w *Writer) resolvePartition(idx int) error {
	iter, err := w.store.Groups(idx)
	if err != nil {
		return errors.E(err, fmt.Sprintf("resolving: read spill partition %d", idx))
	}
	var local Stats
	for iter.Scan() {
		if err := w.resolveGroup(iter.Group(), &local); err != nil {
			iter.Close() // nolint: errcheck
			return err
		}
	}
	if err := iter.Err(); err != nil {
		iter.Close() // nolint: errcheck
		return errors.E(err, fmt.Sprintf("resolving: read spill partition %d", idx))
	}
	if err := iter.Close(); err != nil {
		return errors.E(err, fmt.Sprintf("resolving: close spill partition %d", idx))
	}
	w.resolvedMu.Lock()
	w.resolved.BothUpdated += local.BothUpdated
	w.resolved.FirstUpdated += local.FirstUpdated
	w.resolved.SecondUpdated += local.SecondUpdated
	w.resolved.PairFallback += local.PairFallback
	w.resolved.SingleKept += local.SingleKept
	w.resolved.SingleFallback += local.SingleFallback
	w.resolved.DataErrors += local.DataErrors
	w.resolvedMu.Unlock()
	return nil
}

// resolveGroup writes every read of g exactly once.
func (w *Writer) resolveGroup(g spill.Group, stats *Stats) error {
	obs := make([]Observation, len(g.Candidates))
	bad := 0
	for i, c := range g.Candidates {
		orig, err := c.Original.Record(w.header)
		if err != nil {
			return errors.E(err, "resolving: decode original record of", g.Name)
		}
		if c.UpdatedErr != nil {
			log.Error.Printf("resolving: %v; writing the original placement", c.UpdatedErr)
			bad++
		}
		obs[i] = Observation{Updated: c.Updated, Original: orig}
	}
	stats.DataErrors += bad

	switch len(obs) {
	case 1:
		r, kept := w.resolver.ResolveSingle(obs[0])
		if kept {
			stats.SingleKept++
		} else {
			stats.SingleFallback++
		}
		return w.emit(r, kept)
	case 2:
		first, second := orderMates(obs[0], obs[1])
		a, b, choice := w.resolver.ResolvePair(first, second)
		switch choice {
		case BothUpdated:
			stats.BothUpdated++
		case FirstUpdated:
			stats.FirstUpdated++
		case SecondUpdated:
			stats.SecondUpdated++
		default:
			stats.PairFallback++
		}
		if err := w.emit(a, choice == BothUpdated || choice == FirstUpdated); err != nil {
			return err
		}
		return w.emit(b, choice == BothUpdated || choice == SecondUpdated)
	}

	// Secondary or duplicated records can share a name; there is no
	// telling which of them are mates.
	log.Error.Printf("resolving: %d spilled reads named %s; writing the original placements", len(obs), g.Name)
	stats.DataErrors += len(obs) - bad
	for _, o := range obs {
		if err := w.emit(o.Original, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) emit(r *sam.Record, isUpdated bool) error {
	if err := w.sink.emit(r, isUpdated); err != nil {
		return errors.E(err, "resolving")
	}
	return nil
}
