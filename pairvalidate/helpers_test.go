// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

var (
	chr1, _   = sam.NewReference("chr1", "", "", 1000000, nil, nil)
	chr2, _   = sam.NewReference("chr2", "", "", 1000000, nil, nil)
	header, _ = sam.NewHeader(nil, []*sam.Reference{chr1, chr2})

	cigar30M  = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 30)}
	cigar100M = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 100)}

	r1F = sam.Paired | sam.ProperPair | sam.Read1
	r2R = sam.Paired | sam.ProperPair | sam.Read2 | sam.Reverse
)

// newRecord creates a record whose 1-based alignment start is start.
func newRecord(name string, ref *sam.Reference, start int, flags sam.Flags, cigar sam.Cigar) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = start - 1
	r.MateRef = ref
	r.Flags = flags
	r.Cigar = cigar
	r.MapQ = 60
	return r
}

// realigned returns a copy of r moved to start and tagged as realigned.
func realigned(r *sam.Record, ref *sam.Reference, start int) *sam.Record {
	c := newRecord(r.Name, ref, start, r.Flags, r.Cigar)
	aux, err := sam.NewAux(RealignedTag, fmt.Sprintf("%s:%d:%v", refName(r), alignmentStart(r), r.Cigar))
	if err != nil {
		panic(err)
	}
	c.AuxFields = append(c.AuxFields, aux)
	return c
}

// unmoved returns a copy of r with no realigned tag.
func unmoved(r *sam.Record) *sam.Record {
	return newRecord(r.Name, r.Ref, alignmentStart(r), r.Flags, r.Cigar)
}

// recordingWriter collects written records.  Thread safe.
type recordingWriter struct {
	mu     sync.Mutex
	recs   []*sam.Record
	closed int
	err    error
}

func (w *recordingWriter) Write(r *sam.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.recs = append(w.recs, r)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

// byName returns the written records keyed by name, with the read-1
// mate first.
func (w *recordingWriter) byName(t *testing.T) map[string][]*sam.Record {
	m := map[string][]*sam.Record{}
	for _, r := range w.recs {
		if isRead1(r) {
			m[r.Name] = append([]*sam.Record{r}, m[r.Name]...)
		} else {
			m[r.Name] = append(m[r.Name], r)
		}
	}
	for name, recs := range m {
		require.True(t, len(recs) <= 2, "%s written %d times", name, len(recs))
	}
	return m
}

func testOpts(t *testing.T, dir string) Opts {
	return Opts{
		MinInsertLength: 100,
		MaxInsertLength: 500,
		ScratchDir:      dir,
		SpillShards:     4,
	}
}

type input struct {
	updated, original *sam.Record
}

func runWriter(t *testing.T, opts Opts, inputs []input) (*recordingWriter, Stats) {
	out := &recordingWriter{}
	w, err := NewWriter(header, out, opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()
	for _, in := range inputs {
		require.NoError(t, w.Add(in.updated, in.original))
	}
	stats, err := w.Flush(context.Background())
	require.NoError(t, err)
	return out, stats
}
