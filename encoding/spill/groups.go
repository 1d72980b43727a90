// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spill

import (
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// GroupIterator yields the groups of one partition in ascending name
// order.  Groups are decoded as they are read, so only the current
// group and one buffered item per run are held in memory.  Thread
// compatible.
//
// Example:
//   iter, err := store.Groups(i)
//   for iter.Scan() {
//     g := iter.Group()
//   }
//   err = iter.Close()
type GroupIterator struct {
	header *sam.Header
	idx    int
	want   int // candidates added to the partition.
	files  []runFile
	r      *mergedRun

	ahead bool // r holds an item that is not yet part of a group.
	group Group
	n     int
	done  bool
	err   error
}

// Scan advances to the next group.  It returns false when the partition
// is exhausted or on error.
func (it *GroupIterator) Scan() bool {
	if it.done {
		return false
	}
	it.group = Group{}
	if !it.ahead && !it.r.scan() {
		it.finish(true, nil)
		return false
	}
	it.group.Name = it.r.name()
	for {
		c, err := decodeCandidate(it.header, it.r.frame())
		if err != nil {
			it.finish(false, fmt.Errorf("spill: item %d of partition %d: %v", it.n, it.idx, err))
			return false
		}
		it.n++
		it.group.Candidates = append(it.group.Candidates, c)
		if it.ahead = it.r.scan(); !it.ahead || it.r.name() != it.group.Name {
			break
		}
	}
	return true
}

// Group returns the current group.
//
// REQUIRES: the last call to Scan() returned true.
func (it *GroupIterator) Group() Group {
	return it.group
}

// Err returns the error encountered during iteration, if any.  It
// should be checked after Scan() returns false.
func (it *GroupIterator) Err() error { return it.err }

// Close releases the partition's files and returns Err().
func (it *GroupIterator) Close() error {
	if !it.done {
		it.finish(false, nil)
	}
	it.group = Group{}
	return it.err
}

// finish closes the runs.  If the runs were read to the end, the
// number of candidates read must match the number added.
func (it *GroupIterator) finish(exhausted bool, err error) {
	it.done = true
	if e := it.r.close(); e != nil && err == nil {
		err = e
	}
	if err == nil && exhausted && it.n != it.want {
		err = fmt.Errorf("spill: partition %d: read %d candidates, wrote %d", it.idx, it.n, it.want)
	}
	it.err = err
	removeRunFiles(it.files)
	it.files = nil
	log.Debug.Printf("spill partition %d: read %d candidates", it.idx, it.n)
}
