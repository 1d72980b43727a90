// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spill

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

const (
	// <codecHeader, codec name> is stored in the recordio header of
	// every run file.
	codecHeader = "spillcodec"

	// Number of candidates per recordio block.
	itemsPerBlock = 1024

	// Number of same-level runs merged into one run of the next level.
	defaultMergeFanIn = 32
)

// runFile is a sorted run on disk.  A run made by merging k runs of
// level L has level L+1.
type runFile struct {
	path  string
	level int
}

// partition is one shard of the candidate store.  Candidates are
// buffered in memory up to maxBuffered, then sorted by name and written
// out as a run file.  Whenever fanIn runs of the same level exist they
// are merged into one, so the number of runs grows logarithmically.
// Reading a partition merges its runs and the in-memory tail.
//
// add() and closeWriter() are threadsafe.  closeWriter() must be called
// after all calls to add() are finished, and before open().
type partition struct {
	idx           int
	numPartitions int
	dir           string
	codec         Codec
	header        *sam.Header
	maxBuffered   int
	fanIn         int

	mu       sync.Mutex
	buf      []entry
	runs     []runFile // oldest first; levels are non-increasing.
	nextRun  int
	n        int // total items added.
	closed   bool
	consumed bool
}

func newPartition(header *sam.Header, dir string, codec Codec, maxBuffered, idx, numPartitions int) *partition {
	if maxBuffered < 1 {
		maxBuffered = 1
	}
	return &partition{
		idx:           idx,
		numPartitions: numPartitions,
		dir:           dir,
		codec:         codec,
		header:        header,
		maxBuffered:   maxBuffered,
		fanIn:         defaultMergeFanIn,
	}
}

func (p *partition) add(name string, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("spill: partition %d is closed for writing", p.idx)
	}
	p.buf = append(p.buf, entry{name: name, frame: frame})
	p.n++
	if len(p.buf) < p.maxBuffered {
		return nil
	}
	sortEntries(p.buf)
	path, err := p.writeRun(newMemRun(p.buf))
	if err != nil {
		return err
	}
	p.buf = p.buf[:0]
	p.runs = append(p.runs, runFile{path: path})
	return p.compactLocked()
}

// compactLocked merges trailing runs of equal level while there are at
// least fanIn of them.
//
// REQUIRES: p.mu is held.
func (p *partition) compactLocked() error {
	for len(p.runs) >= p.fanIn {
		last := len(p.runs) - 1
		level := p.runs[last].level
		first := last
		for first > 0 && p.runs[first-1].level == level {
			first--
		}
		if last-first+1 < p.fanIn {
			return nil
		}
		if err := p.mergeRunsLocked(first, level+1); err != nil {
			return err
		}
	}
	return nil
}

// mergeRunsLocked replaces p.runs[first:] with a single run.
//
// REQUIRES: p.mu is held.
func (p *partition) mergeRunsLocked(first, level int) error {
	inputs := p.runs[first:]
	runs := make([]run, 0, len(inputs))
	for _, rf := range inputs {
		r, err := openFileRun(rf.path, p.codec)
		if err != nil {
			closeRuns(runs)
			return err
		}
		runs = append(runs, r)
	}
	merged := newMergedRun(runs)
	path, err := p.writeRun(merged)
	if e := merged.close(); e != nil {
		if path != "" {
			os.Remove(path) // nolint: errcheck
		}
		if err == nil {
			err = e
		}
	}
	if err != nil {
		return err
	}
	removeRunFiles(inputs)
	vlog.VI(1).Infof("spill partition %d: merged %d runs into %s", p.idx, len(inputs), path)
	p.runs = append(p.runs[:first], runFile{path: path, level: level})
	return nil
}

func (p *partition) writerOpts() recordio.WriterOpts {
	opts := recordio.WriterOpts{}
	if p.codec == Zstd {
		recordiozstd.Init()
		opts.Transformers = []string{recordiozstd.Name}
	}
	return opts
}

// writeRun writes the items of r to a new run file and returns its
// path.  r must be sorted.
func (p *partition) writeRun(r run) (string, error) {
	path := filepath.Join(p.dir, fmt.Sprintf("candidates_%04d_of_%04d.run%06d.rio", p.idx, p.numPartitions, p.nextRun))
	p.nextRun++
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("error creating file %s: %v", path, err)
	}
	w := recordio.NewWriter(f, p.writerOpts())
	w.AddHeader(codecHeader, p.codec.String())
	n := 0
	for r.scan() {
		frame := r.frame()
		if p.codec == Snappy {
			frame = snappy.Encode(nil, frame)
		}
		w.Append(frame)
		if n++; n%itemsPerBlock == 0 {
			w.Flush()
		}
	}
	e := errors.Once{}
	e.Set(w.Finish())
	e.Set(f.Close())
	if err := e.Err(); err != nil {
		os.Remove(path) // nolint: errcheck
		return "", fmt.Errorf("failed to write run %s: %v", path, err)
	}
	return path, nil
}

// closeWriter ends the writing phase.  The in-memory tail is sorted and
// kept as the newest run.
func (p *partition) closeWriter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	sortEntries(p.buf)
	vlog.VI(1).Infof("spill partition %d: %d candidates, %d runs on disk, %d in memory",
		p.idx, p.n, len(p.runs), len(p.buf))
}

// open returns an iterator that merges the runs of the partition and
// groups candidates by name.  open may be called only once; the run
// files are deleted when the iterator finishes.
func (p *partition) open() (*GroupIterator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return nil, fmt.Errorf("spill: partition %d read before Finalize", p.idx)
	}
	if p.consumed {
		return nil, fmt.Errorf("spill: partition %d already consumed", p.idx)
	}
	p.consumed = true

	runs := make([]run, 0, len(p.runs)+1)
	for _, rf := range p.runs {
		r, err := openFileRun(rf.path, p.codec)
		if err != nil {
			closeRuns(runs)
			return nil, err
		}
		runs = append(runs, r)
	}
	if len(p.buf) > 0 {
		runs = append(runs, newMemRun(p.buf))
		p.buf = nil
	}
	files := p.runs
	p.runs = nil
	log.Debug.Printf("reading spill partition %d: %d candidates in %d runs", p.idx, p.n, len(runs))
	return &GroupIterator{
		header: p.header,
		idx:    p.idx,
		want:   p.n,
		files:  files,
		r:      newMergedRun(runs),
	}, nil
}

// discard drops the buffered candidates of a partition.
func (p *partition) discard() {
	p.mu.Lock()
	p.closed = true
	p.buf = nil
	p.mu.Unlock()
}

func removeRunFiles(files []runFile) {
	for _, rf := range files {
		if err := os.Remove(rf.path); err != nil && !os.IsNotExist(err) {
			log.Error.Printf("spill: remove %s: %v", rf.path, err)
		}
	}
}
