// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import "github.com/grailbio/hts/sam"

// Oracle answers whether two placements form a valid pair.  All methods
// are pure.
type Oracle struct {
	MinInsertLength int
	MaxInsertLength int
}

// InsertLength returns the span from the leftmost start to the
// rightmost end of a and b.
func (o Oracle) InsertLength(a, b *sam.Record) int {
	start := alignmentStart(a)
	if s := alignmentStart(b); s < start {
		start = s
	}
	end := alignmentEnd(a)
	if e := alignmentEnd(b); e > end {
		end = e
	}
	return end - start
}

// ValidInsertLength checks the insert length against the bounds.  Only
// the lower bound compares the absolute value.
//
// TODO: decide whether the upper bound should also use abs(n).
// Callers only pass non-negative lengths today, so the two agree.
func (o Oracle) ValidInsertLength(n int) bool {
	return abs(n) >= o.MinInsertLength && n <= o.MaxInsertLength
}

// ValidOrientation returns true if the mate that starts first is on the
// forward strand and the other one is reversed.  On a tie, b is taken
// to start first.
func (o Oracle) ValidOrientation(a, b *sam.Record) bool {
	first, second := b, a
	if alignmentStart(a) < alignmentStart(b) {
		first, second = a, b
	}
	return !isReverse(first) && isReverse(second)
}

// SameChromosome returns true if a and b are on the same reference.
func (o Oracle) SameChromosome(a, b *sam.Record) bool {
	return refName(a) == refName(b)
}

// PairValid returns true if a and b are both present and form a valid
// pair.
func (o Oracle) PairValid(a, b *sam.Record) bool {
	if a == nil || b == nil {
		return false
	}
	if !o.SameChromosome(a, b) {
		return false
	}
	return o.ValidInsertLength(o.InsertLength(a, b)) && o.ValidOrientation(a, b)
}
