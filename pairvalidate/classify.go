// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import "github.com/grailbio/hts/sam"

// Decision is the outcome of Classify.
type Decision int

const (
	// EmitNoChange: no updated record; the original is written now.
	EmitNoChange Decision = iota
	// EmitUnmoved: the realigner kept the read in place; the updated
	// record is written now.
	EmitUnmoved
	// EmitNotProperPair: the original was not a proper pair, so nothing
	// ties the read to its mate; the updated record is written now.
	EmitNotProperPair
	// Spill: the decision needs the mate.
	Spill
)

func (d Decision) String() string {
	switch d {
	case EmitNoChange:
		return "no-change"
	case EmitUnmoved:
		return "unmoved"
	case EmitNotProperPair:
		return "not-proper-pair"
	case Spill:
		return "spill"
	}
	return "unknown"
}

// Classify decides whether a read can be written right away.  For the
// Emit* decisions it also returns the record to write, and whether it
// is the updated placement.  For Spill, the record is nil.
//
// REQUIRES: original != nil.
func Classify(updated, original *sam.Record) (d Decision, r *sam.Record, isUpdated bool) {
	switch {
	case updated == nil:
		return EmitNoChange, original, false
	case !IsRealigned(updated):
		return EmitUnmoved, updated, true
	case !isProperPair(original):
		return EmitNotProperPair, updated, true
	}
	return Spill, nil, false
}
