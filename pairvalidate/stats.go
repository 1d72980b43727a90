// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import "fmt"

// Stats summarizes a run.  It is returned by Writer.Flush.
type Stats struct {
	// Input is the number of reads passed to Add.
	Input int
	// Emitted is the number of reads written.  After a successful Flush
	// it equals Input.
	Emitted int

	// Classification of the input reads.
	NoChange      int // no updated record.
	Unmoved       int // updated record without the realigned tag.
	NotProperPair int // original not a proper pair.
	Candidates    int // spilled.

	// Resolution of spilled pairs, counted per pair.
	BothUpdated   int
	FirstUpdated  int
	SecondUpdated int
	PairFallback  int

	// Resolution of spilled reads whose mate was not spilled.
	SingleKept     int
	SingleFallback int

	// DataErrors is the number of spilled reads that could not be
	// decoded, or that shared their name with more than one other
	// spilled read.  These reads were written with their original
	// placement.
	DataErrors int

	// Updated and Original count the placements written.
	Updated  int
	Original int
	// Realigned is the number of written reads whose realigned
	// placement was kept.
	Realigned int
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("input:%d emitted:%d nochange:%d unmoved:%d notproper:%d candidates:%d "+
		"pairs(both:%d first:%d second:%d fallback:%d) single(kept:%d fallback:%d) "+
		"dataerrors:%d updated:%d original:%d realigned:%d",
		s.Input, s.Emitted, s.NoChange, s.Unmoved, s.NotProperPair, s.Candidates,
		s.BothUpdated, s.FirstUpdated, s.SecondUpdated, s.PairFallback,
		s.SingleKept, s.SingleFallback, s.DataErrors, s.Updated, s.Original, s.Realigned)
}

// Fields returns the stats as (name, value) rows, in a fixed order.
func (s Stats) Fields() []StatField {
	return []StatField{
		{"input", s.Input},
		{"emitted", s.Emitted},
		{"no_change", s.NoChange},
		{"unmoved", s.Unmoved},
		{"not_proper_pair", s.NotProperPair},
		{"candidates", s.Candidates},
		{"pairs_both_updated", s.BothUpdated},
		{"pairs_first_updated", s.FirstUpdated},
		{"pairs_second_updated", s.SecondUpdated},
		{"pairs_fallback", s.PairFallback},
		{"single_kept", s.SingleKept},
		{"single_fallback", s.SingleFallback},
		{"data_errors", s.DataErrors},
		{"updated", s.Updated},
		{"original", s.Original},
		{"realigned", s.Realigned},
	}
}

// StatField is one row of Stats.Fields.
type StatField struct {
	Name  string
	Value int
}
