// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spill

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginalVariants(t *testing.T) {
	r := newRecord("A", chr1, 500, sam.Paired|sam.ProperPair|sam.Reverse)

	resolved := Resolved(r)
	assert.True(t, resolved.IsResolved())
	got, err := resolved.Record(header)
	require.NoError(t, err)
	assert.True(t, got == r)

	b, err := resolved.bytes()
	require.NoError(t, err)
	unresolved := Unresolved(b)
	assert.False(t, unresolved.IsResolved())
	for i := 0; i < 2; i++ {
		got, err = unresolved.Record(header)
		require.NoError(t, err)
		expect.EQ(t, got.Name, "A")
		expect.EQ(t, got.Pos, 500)
		expect.EQ(t, got.Flags, sam.Paired|sam.ProperPair|sam.Reverse)
		// Decoding does not turn the value into a Resolved one.
		assert.False(t, unresolved.IsResolved())
	}

	_, err = Unresolved(nil).Record(header)
	assert.Error(t, err)
	_, err = Unresolved([]byte("not a bam record")).Record(header)
	assert.Error(t, err)
}

func TestRecordCodecKeepsAuxTypes(t *testing.T) {
	r := newRecord("A", chr1, 500, sam.Paired|sam.ProperPair|sam.Read1)
	r.MateRef = chr2
	r.MatePos = 700
	r.TempLen = -250
	r.Seq = sam.NewSeq([]byte("ACGTN"))
	r.Qual = []byte{30, 31, 32, 33, 34}
	r.Cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarSoftClipped, 1), sam.NewCigarOp(sam.CigarMatch, 4)}
	for _, v := range []struct {
		tag   string
		value interface{}
	}{
		// SAM text would print all of these as "i" and parse them back
		// as the narrowest type that fits.
		{"XS", int16(3)},
		{"AS", uint32(5)},
		{"NM", int32(-1)},
		{"XC", uint8(200)},
		{"XF", float32(0.5)},
		{"MD", "4"},
		{"XB", []int16{1, -2, 3}},
	} {
		aux, err := sam.NewAux(sam.NewTag(v.tag), v.value)
		require.NoError(t, err)
		r.AuxFields = append(r.AuxFields, aux)
	}
	b, err := marshalRecord(r)
	require.NoError(t, err)
	got, err := unmarshalRecord(header, b)
	require.NoError(t, err)
	expect.EQ(t, got.Name, "A")
	expect.EQ(t, got.Ref.Name(), "chr1")
	expect.EQ(t, got.MateRef.Name(), "chr2")
	expect.EQ(t, got.MatePos, 700)
	expect.EQ(t, got.TempLen, -250)
	expect.EQ(t, got.Cigar.String(), "1S4M")
	expect.EQ(t, string(got.Seq.Expand()), "ACGTN")
	expect.EQ(t, got.Qual, r.Qual)
	require.Len(t, got.AuxFields, len(r.AuxFields))
	for i, aux := range r.AuxFields {
		expect.EQ(t, got.AuxFields[i].Type(), aux.Type(), aux.Tag().String())
		expect.EQ(t, []byte(got.AuxFields[i]), []byte(aux))
	}
	again, err := marshalRecord(got)
	require.NoError(t, err)
	expect.EQ(t, again, b)
}

func TestUnmarshalRecordErrors(t *testing.T) {
	r := newRecord("A", chr1, 500, sam.Paired)
	aux, err := sam.NewAux(sam.NewTag("MD"), "100")
	require.NoError(t, err)
	r.AuxFields = []sam.Aux{aux}
	b, err := marshalRecord(r)
	require.NoError(t, err)

	// Truncated aux field: the block size no longer matches.
	_, err = unmarshalRecord(header, b[:len(b)-1])
	assert.Error(t, err)

	// Reference id beyond the header.
	other, err := sam.NewReference("chrX", "", "", 1000, nil, nil)
	require.NoError(t, err)
	_, err = sam.NewHeader(nil, []*sam.Reference{chr1.Clone(), chr2.Clone(), other})
	require.NoError(t, err)
	r.Ref, r.MateRef = other, other
	b, err = marshalRecord(r)
	require.NoError(t, err)
	_, err = unmarshalRecord(header, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = parseAux([]byte{'X', 'Y', 'Z', 'a'})
	assert.Error(t, err, "unterminated string")
	_, err = parseAux([]byte{'X', 'Y', 'q', 0})
	assert.Error(t, err, "unknown type")
	_, err = parseAux([]byte{'X', 'Y', 'B', 'i', 9, 0, 0, 0})
	assert.Error(t, err, "short array")
}

func TestFrameRoundTrip(t *testing.T) {
	frame := encodeFrame("read1", []byte("updated"), []byte("original"))
	name, updated, original, err := decodeFrame(frame)
	require.NoError(t, err)
	expect.EQ(t, name, "read1")
	expect.EQ(t, string(updated), "updated")
	expect.EQ(t, string(original), "original")
}

func TestFrameCorruption(t *testing.T) {
	frame := encodeFrame("read1", []byte("updated"), []byte("original"))
	frame[3] ^= 0xff
	_, _, _, err := decodeFrame(frame)
	assert.Error(t, err)

	_, _, _, err = decodeFrame([]byte{1, 2})
	assert.Error(t, err)
}

func TestDecodeCandidateBadUpdated(t *testing.T) {
	orig := newRecord("A", chr1, 100, sam.Paired|sam.ProperPair)
	origBytes, err := marshalRecord(orig)
	require.NoError(t, err)

	c, err := decodeCandidate(header, encodeFrame("A", []byte("garbage"), origBytes))
	require.NoError(t, err)
	expect.EQ(t, c.Name, "A")
	assert.Nil(t, c.Updated)
	assert.Error(t, c.UpdatedErr)
	got, err := c.Original.Record(header)
	require.NoError(t, err)
	expect.EQ(t, got.Pos, 100)
}

func TestEncodeCandidateRequiresUpdated(t *testing.T) {
	_, err := encodeCandidate(Candidate{Name: "A", Original: Resolved(newRecord("A", chr1, 1, 0))})
	assert.Error(t, err)
}

func TestCorruptPartitionIsFatal(t *testing.T) {
	// maxBuffered 1 puts the bad frame in a run file; the default keeps
	// it in memory.
	for _, maxBuffered := range []int{1, 0} {
		tempDir, cleanup := testutil.TempDir(t, "", "")
		defer cleanup()

		store, err := NewStore(header, Opts{Dir: tempDir, Shards: 1, MaxBuffered: maxBuffered, Codec: None})
		require.NoError(t, err)
		defer store.Close() // nolint: errcheck

		// Bypass Append to write a frame with a broken checksum.
		frame := encodeFrame("A", []byte("x"), []byte("y"))
		frame[len(frame)-1] ^= 0xff
		require.NoError(t, store.partitions[0].add("A", frame))
		require.NoError(t, store.Finalize())
		iter, err := store.Groups(0)
		require.NoError(t, err)
		assert.False(t, iter.Scan())
		assert.Error(t, iter.Err(), "maxBuffered %d", maxBuffered)
		assert.Error(t, iter.Close())
	}
}
