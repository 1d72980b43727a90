// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import (
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// RecordWriter receives the final records.  If it also implements
// Close() error, Flush() calls Close().
type RecordWriter interface {
	Write(r *sam.Record) error
}

type recordCloser interface {
	Close() error
}

// Normalizer rewrites a record right before it is written, e.g. to
// move indels to their leftmost equivalent position.
type Normalizer interface {
	Normalize(r *sam.Record) *sam.Record
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(r *sam.Record) *sam.Record

// Normalize implements Normalizer.
func (f NormalizerFunc) Normalize(r *sam.Record) *sam.Record { return f(r) }

type identity struct{}

func (identity) Normalize(r *sam.Record) *sam.Record { return r }

// sink writes records and counts what was written.  Thread safe.
type sink struct {
	mu   sync.Mutex
	w    RecordWriter
	norm Normalizer

	emitted   int
	updated   int
	original  int
	realigned int
	flushed   bool
}

func newSink(w RecordWriter, norm Normalizer) *sink {
	return &sink{w: w, norm: norm}
}

// emit writes r.  isUpdated tells whether r is the read's updated
// placement.
func (s *sink) emit(r *sam.Record, isUpdated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushed {
		return errors.E(errors.Precondition, "write after flush:", r.Name)
	}
	realigned := isUpdated && IsRealigned(r)
	if err := s.w.Write(s.norm.Normalize(r)); err != nil {
		return errors.E(err, "write", r.Name)
	}
	s.emitted++
	if isUpdated {
		s.updated++
		if realigned {
			s.realigned++
		}
	} else {
		s.original++
	}
	return nil
}

// flush closes the underlying writer, if it is closeable, and copies
// the counters into stats.
func (s *sink) flush(stats *Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushed {
		return errors.E(errors.Precondition, "sink flushed twice")
	}
	s.flushed = true
	stats.Emitted = s.emitted
	stats.Updated = s.updated
	stats.Original = s.original
	stats.Realigned = s.realigned
	if c, ok := s.w.(recordCloser); ok {
		if err := c.Close(); err != nil {
			return errors.E(err, "close output")
		}
	}
	return nil
}
