// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spill

import (
	"fmt"
	"os"
	"sort"

	"github.com/biogo/store/llrb"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/recordio"
)

// entry is one encoded candidate and the name it sorts by.
type entry struct {
	name  string
	frame []byte
}

func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
}

// run is a stream of candidate frames in ascending name order.
// Candidates with the same name come out in the order they were added.
type run interface {
	// scan advances to the next frame.  It returns false at the end of
	// the run or on error.
	scan() bool
	// name and frame return the current item.  The frame is not
	// modified by later calls to scan.
	name() string
	frame() []byte
	// close releases the run and returns the first error it
	// encountered.
	close() error
}

// memRun is a sorted run held in memory.
type memRun struct {
	entries []entry
	idx     int
}

func newMemRun(entries []entry) *memRun {
	return &memRun{entries: entries, idx: -1}
}

func (r *memRun) scan() bool {
	if r.idx >= 0 && r.idx < len(r.entries) {
		// Drop the consumed frame so it can be collected.
		r.entries[r.idx] = entry{}
	}
	if r.idx < len(r.entries) {
		r.idx++
	}
	return r.idx < len(r.entries)
}

func (r *memRun) name() string { return r.entries[r.idx].name }

func (r *memRun) frame() []byte { return r.entries[r.idx].frame }

func (r *memRun) close() error {
	r.entries = nil
	return nil
}

// fileRun reads a sorted run written by partition.writeRun.
type fileRun struct {
	path  string
	codec Codec
	f     *os.File
	sc    recordio.Scanner

	curName  string
	curFrame []byte
	err      errors.Once
}

func openFileRun(path string, codec Codec) (*fileRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file %s: %v", path, err)
	}
	return &fileRun{
		path:  path,
		codec: codec,
		f:     f,
		sc:    recordio.NewScanner(f, recordio.ScannerOpts{}),
	}, nil
}

func (r *fileRun) scan() bool {
	if r.err.Err() != nil || !r.sc.Scan() {
		return false
	}
	frame := r.sc.Get().([]byte)
	if r.codec == Snappy {
		var err error
		if frame, err = snappy.Decode(nil, frame); err != nil {
			r.err.Set(fmt.Errorf("spill: snappy decode in %s: %v", r.path, err))
			return false
		}
	} else {
		// The scanner reuses its block buffer.
		frame = append([]byte(nil), frame...)
	}
	name, _, _, err := decodeFrame(frame)
	if err != nil {
		r.err.Set(fmt.Errorf("spill: %s: %v", r.path, err))
		return false
	}
	r.curName, r.curFrame = name, frame
	return true
}

func (r *fileRun) name() string { return r.curName }

func (r *fileRun) frame() []byte { return r.curFrame }

func (r *fileRun) close() error {
	if r.f == nil {
		return r.err.Err()
	}
	if err := r.sc.Finish(); err != nil {
		r.err.Set(fmt.Errorf("error reading run %s: %v", r.path, err))
	}
	if err := r.f.Close(); err != nil {
		r.err.Set(fmt.Errorf("error closing %s: %v", r.path, err))
	}
	r.f = nil
	return r.err.Err()
}

// mergeLeaf is one input of a mergedRun.  seq is the input's position,
// so that equal names come out oldest run first.
type mergeLeaf struct {
	seq int
	r   run
}

// Compare implements llrb.Comparable.
func (l *mergeLeaf) Compare(c llrb.Comparable) int {
	l1 := c.(*mergeLeaf)
	if n0, n1 := l.r.name(), l1.r.name(); n0 != n1 {
		if n0 < n1 {
			return -1
		}
		return 1
	}
	return l.seq - l1.seq
}

// mergedRun merges sorted runs into one.  It holds one item per input
// in memory.
type mergedRun struct {
	runs   []run
	leaves llrb.Tree

	curName  string
	curFrame []byte
}

// newMergedRun merges runs, which must be ordered oldest first.
func newMergedRun(runs []run) *mergedRun {
	m := &mergedRun{runs: runs}
	for i, r := range runs {
		if r.scan() {
			m.leaves.Insert(&mergeLeaf{seq: i, r: r})
		}
	}
	return m
}

func (m *mergedRun) scan() bool {
	if m.leaves.Len() == 0 {
		return false
	}
	top := m.leaves.Min().(*mergeLeaf)
	m.leaves.DeleteMin()
	m.curName, m.curFrame = top.r.name(), top.r.frame()
	if top.r.scan() {
		m.leaves.Insert(top)
	}
	return true
}

func (m *mergedRun) name() string { return m.curName }

func (m *mergedRun) frame() []byte { return m.curFrame }

func (m *mergedRun) close() error {
	e := errors.Once{}
	for _, r := range m.runs {
		e.Set(r.close())
	}
	m.runs = nil
	return e.Err()
}

func closeRuns(runs []run) {
	for _, r := range runs {
		r.close() // nolint: errcheck
	}
}
