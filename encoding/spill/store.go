// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spill

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"sync/atomic"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/sam"
)

const (
	// DefaultShards is the default number of partitions of a Store.
	DefaultShards = 64
	// DefaultMaxBuffered is the default number of candidates a Store
	// keeps in memory before writing sorted runs to disk.
	DefaultMaxBuffered = 1 << 18
)

// Codec selects how candidate frames are compressed on disk.
type Codec int

const (
	// Zstd compresses recordio blocks with zstd.
	Zstd Codec = iota
	// Snappy compresses each candidate with snappy.
	Snappy
	// None stores candidates uncompressed.
	None
)

// ParseCodec parses a codec name: "zstd", "snappy" or "none".  The empty
// string means Zstd.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	case "none":
		return None, nil
	}
	return Zstd, fmt.Errorf("spill: unknown codec %q", name)
}

func (c Codec) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	case None:
		return "none"
	}
	return fmt.Sprintf("codec(%d)", int(c))
}

// Opts configures a Store.
type Opts struct {
	// Dir is the directory under which the store creates its private
	// temp directory.  "" means the system default.
	Dir string
	// Shards is the number of partitions.  If <= 0, DefaultShards is
	// used.
	Shards int
	// MaxBuffered bounds the number of candidates held in memory across
	// all partitions.  Each partition buffers MaxBuffered/Shards
	// candidates (at least one) before sorting them into a run file.  If
	// <= 0, DefaultMaxBuffered is used.
	MaxBuffered int
	// Codec selects on-disk compression.
	Codec Codec
}

// Group is the set of candidates that share a read name.  For a read
// pair it holds one candidate per mate that was spilled.
type Group struct {
	Name       string
	Candidates []Candidate
}

// Store is a disk-backed, partitioned holding area for Candidates.
//
// Append() may be called concurrently.  Finalize() must be called after
// all calls to Append() complete.  After Finalize(), Groups() can be
// called once per partition, from any number of goroutines.  Close()
// must always be called to remove the temp files.
type Store struct {
	header     *sam.Header
	dir        string
	partitions []*partition
	total      uint64

	mu        sync.Mutex
	finalized bool
	closed    bool
}

// NewStore creates a Store in a fresh temp directory under opts.Dir.
// On error, nothing is left on disk.
func NewStore(header *sam.Header, opts Opts) (*Store, error) {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.MaxBuffered <= 0 {
		opts.MaxBuffered = DefaultMaxBuffered
	}
	dir, err := ioutil.TempDir(opts.Dir, "pairvalidate")
	if err != nil {
		return nil, fmt.Errorf("could not create tmp dir in %s: %v", opts.Dir, err)
	}
	s := &Store{
		header:     header,
		dir:        dir,
		partitions: make([]*partition, opts.Shards),
	}
	for i := range s.partitions {
		s.partitions[i] = newPartition(header, dir, opts.Codec, opts.MaxBuffered/opts.Shards, i, opts.Shards)
	}
	log.Debug.Printf("spill store: %d %s partitions in %s, buffering %d candidates",
		opts.Shards, opts.Codec, dir, opts.MaxBuffered)
	return s, nil
}

// Dir returns the store's private temp directory.
func (s *Store) Dir() string { return s.dir }

// NumPartitions returns the number of partitions.
func (s *Store) NumPartitions() int { return len(s.partitions) }

// Len returns the number of candidates appended so far.
func (s *Store) Len() int { return int(atomic.LoadUint64(&s.total)) }

func (s *Store) partitionFor(name string) *partition {
	h := seahash.Sum64(unsafe.StringToBytes(name))
	return s.partitions[int(h%uint64(len(s.partitions)))]
}

// Append adds a candidate.  It fails after Finalize() or Close().
func (s *Store) Append(c Candidate) error {
	s.mu.Lock()
	done := s.finalized || s.closed
	s.mu.Unlock()
	if done {
		return fmt.Errorf("spill: append %s after finalize", c.Name)
	}
	frame, err := encodeCandidate(c)
	if err != nil {
		return err
	}
	if err := s.partitionFor(c.Name).add(c.Name, frame); err != nil {
		return fmt.Errorf("spill: append %s: %v", c.Name, err)
	}
	atomic.AddUint64(&s.total, 1)
	return nil
}

// Finalize ends the collecting phase.  No further Append() calls are
// accepted.
func (s *Store) Finalize() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("spill: finalize after close")
	}
	s.finalized = true
	s.mu.Unlock()
	for _, p := range s.partitions {
		p.closeWriter()
	}
	log.Debug.Printf("spill store: finalized %d candidates", s.Len())
	return nil
}

// Groups returns an iterator over the groups of the given partition,
// in ascending name order.  Each partition can be read only once.
//
// REQUIRES: Finalize() has returned successfully.
func (s *Store) Groups(partitionIdx int) (*GroupIterator, error) {
	s.mu.Lock()
	ok := s.finalized && !s.closed
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("spill: Groups(%d) called outside the resolving phase", partitionIdx)
	}
	if partitionIdx < 0 || partitionIdx >= len(s.partitions) {
		return nil, fmt.Errorf("spill: partition %d out of range [0,%d)", partitionIdx, len(s.partitions))
	}
	return s.partitions[partitionIdx].open()
}

// Close removes all files of the store.  It can be called in any state,
// and more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, p := range s.partitions {
		p.discard()
	}
	return os.RemoveAll(s.dir)
}
