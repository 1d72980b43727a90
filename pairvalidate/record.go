// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import "github.com/grailbio/hts/sam"

// RealignedTag marks a record whose placement was produced by the
// realigner.  Its value holds the original placement, but only its
// presence matters here.
var RealignedTag = sam.NewTag("YO")

// IsRealigned returns true if r carries RealignedTag.
func IsRealigned(r *sam.Record) bool {
	return r.AuxFields.Get(RealignedTag) != nil
}

// Observation is one read's two placements.  Original is never nil;
// Updated is nil when the realigner proposed nothing.
type Observation struct {
	Updated  *sam.Record
	Original *sam.Record
}

// Coordinates are 1-based and inclusive.
func alignmentStart(r *sam.Record) int { return r.Pos + 1 }
func alignmentEnd(r *sam.Record) int   { return r.End() }

func isReverse(r *sam.Record) bool    { return r.Flags&sam.Reverse != 0 }
func isProperPair(r *sam.Record) bool { return r.Flags&sam.ProperPair != 0 }
func isRead1(r *sam.Record) bool      { return r.Flags&sam.Read1 != 0 }

func refName(r *sam.Record) string {
	if r.Ref == nil {
		return "*"
	}
	return r.Ref.Name()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
