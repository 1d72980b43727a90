// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
)

var testResolver = Resolver{Oracle: testOracle, MaxMateDistance: 1000}

func pairObs(aOrig, aNew, bOrig, bNew int, cigar sam.Cigar) (a, b Observation) {
	ao := newRecord("p", chr1, aOrig, r1F, cigar)
	bo := newRecord("p", chr1, bOrig, r2R, cigar)
	return Observation{Updated: realigned(ao, chr1, aNew), Original: ao},
		Observation{Updated: realigned(bo, chr1, bNew), Original: bo}
}

func TestResolvePair(t *testing.T) {
	tests := []struct {
		name                       string
		aOrig, aNew, bOrig, bNew   int
		cigar                      sam.Cigar
		want                       PairChoice
		wantAUpdated, wantBUpdated bool
	}{
		// Updated insert [1000, 1300] = 300.
		{"both", 990, 1000, 1190, 1201, cigar100M, BothUpdated, true, true},
		// (U,U)=50, (U,O)=69, (O,U)=200.
		{"second", 1000, 1150, 1190, 1171, cigar30M, SecondUpdated, false, true},
		// (U,U)=600, (U,O)=[1050, 1349]=299.
		{"first", 990, 1050, 1250, 1551, cigar100M, FirstUpdated, true, false},
		// Everything is too long except the originals.
		{"fallback", 1000, 5000, 1200, 9000, cigar100M, BothOriginal, false, false},
	}
	for _, test := range tests {
		a, b := pairObs(test.aOrig, test.aNew, test.bOrig, test.bNew, test.cigar)
		ra, rb, choice := testResolver.ResolvePair(a, b)
		expect.EQ(t, choice, test.want, test.name)
		expect.EQ(t, ra == a.Updated, test.wantAUpdated, test.name)
		expect.EQ(t, rb == b.Updated, test.wantBUpdated, test.name)
		if !test.wantAUpdated {
			expect.True(t, ra == a.Original, test.name)
		}
		if !test.wantBUpdated {
			expect.True(t, rb == b.Original, test.name)
		}
	}
}

func TestResolvePairWrongStrand(t *testing.T) {
	// Both mates forward: no combination has a valid orientation.
	ao := newRecord("p", chr1, 1000, r1F, cigar100M)
	bo := newRecord("p", chr1, 1200, r1F&^sam.Read1|sam.Read2, cigar100M)
	a := Observation{Updated: realigned(ao, chr1, 1010), Original: ao}
	b := Observation{Updated: realigned(bo, chr1, 1210), Original: bo}
	_, _, choice := testResolver.ResolvePair(a, b)
	expect.EQ(t, choice, BothOriginal)
}

func TestResolvePairMissingUpdated(t *testing.T) {
	a, b := pairObs(1000, 1000, 1200, 1200, cigar100M)
	b.Updated = nil
	ra, rb, choice := testResolver.ResolvePair(a, b)
	expect.EQ(t, choice, FirstUpdated)
	expect.True(t, ra == a.Updated)
	expect.True(t, rb == b.Original)
}

func TestResolveSingle(t *testing.T) {
	orig := newRecord("s", chr1, 10000, r1F, cigar100M)
	tests := []struct {
		name    string
		updated *sam.Record
		want    bool
	}{
		{"near", realigned(orig, chr1, 10050), true},
		{"near left", realigned(orig, chr1, 9950), true},
		{"at the limit", realigned(orig, chr1, 11000), true},
		{"too far", realigned(orig, chr1, 11001), false},
		{"other reference", realigned(orig, chr2, 10000), false},
		{"no updated", nil, false},
	}
	for _, test := range tests {
		r, kept := testResolver.ResolveSingle(Observation{Updated: test.updated, Original: orig})
		expect.EQ(t, kept, test.want, test.name)
		if kept {
			expect.True(t, r == test.updated, test.name)
		} else {
			expect.True(t, r == orig, test.name)
		}
	}
}

func TestOrderMates(t *testing.T) {
	r1 := Observation{Original: newRecord("m", chr1, 100, r1F, cigar100M)}
	r2 := Observation{Original: newRecord("m", chr1, 300, r2R, cigar100M)}
	first, _ := orderMates(r2, r1)
	expect.True(t, first == r1)
	first, _ = orderMates(r1, r2)
	expect.True(t, first == r1)

	// Without read-1 flags, the input order holds.
	x := Observation{Original: newRecord("m", chr1, 100, sam.Paired, cigar100M)}
	y := Observation{Original: newRecord("m", chr1, 300, sam.Paired, cigar100M)}
	first, _ = orderMates(y, x)
	expect.True(t, first == y)
}
