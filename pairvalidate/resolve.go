// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import "github.com/grailbio/hts/sam"

// PairChoice tells which placements ResolvePair picked.
type PairChoice int

const (
	// BothUpdated keeps both realigned placements.
	BothUpdated PairChoice = iota
	// FirstUpdated keeps the first mate's realigned placement and the
	// second mate's original.
	FirstUpdated
	// SecondUpdated keeps the first mate's original and the second
	// mate's realigned placement.
	SecondUpdated
	// BothOriginal falls back to the original pair.
	BothOriginal
)

func (c PairChoice) String() string {
	switch c {
	case BothUpdated:
		return "both-updated"
	case FirstUpdated:
		return "first-updated"
	case SecondUpdated:
		return "second-updated"
	case BothOriginal:
		return "both-original"
	}
	return "unknown"
}

// Resolver picks placements for spilled candidates.
type Resolver struct {
	Oracle Oracle
	// MaxMateDistance bounds how far a candidate without a spilled mate
	// may move from its original start.
	MaxMateDistance int
}

// ResolvePair picks placements for two mates, trying in order
// (updated, updated), (updated, original), (original, updated), and
// falling back to (original, original).
func (r Resolver) ResolvePair(first, second Observation) (a, b *sam.Record, choice PairChoice) {
	switch {
	case r.Oracle.PairValid(first.Updated, second.Updated):
		return first.Updated, second.Updated, BothUpdated
	case r.Oracle.PairValid(first.Updated, second.Original):
		return first.Updated, second.Original, FirstUpdated
	case r.Oracle.PairValid(first.Original, second.Updated):
		return first.Original, second.Updated, SecondUpdated
	}
	return first.Original, second.Original, BothOriginal
}

// ResolveSingle picks a placement for a candidate whose mate never
// reached the spill store.  The updated placement is kept unless it is
// missing, on a different reference than the original, or more than
// MaxMateDistance away from it.
func (r Resolver) ResolveSingle(obs Observation) (rec *sam.Record, keptUpdated bool) {
	u, o := obs.Updated, obs.Original
	if u == nil {
		return o, false
	}
	if refName(u) != refName(o) {
		return o, false
	}
	if abs(alignmentStart(u)-alignmentStart(o)) > r.MaxMateDistance {
		return o, false
	}
	return u, true
}

// orderMates returns the two observations with the read-1 mate first.
// If neither or both are flagged read 1, the input order is kept.
func orderMates(x, y Observation) (first, second Observation) {
	if !isRead1(x.Original) && isRead1(y.Original) {
		return y, x
	}
	return x, y
}
