// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spill

// Spilled records are kept in BAM binary form, so that a record read
// back from disk is byte-identical to the one that was spilled,
// including the integer widths of its aux fields.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

const (
	// Size of the block_size prefix written by bam.Marshal.
	blockSizeBytes = 4
	// Size of the fixed part of a BAM record, after block_size.
	bamFixedBytes = 32
)

var (
	errRecordTooShort  = errors.New("bam: record too short")
	errCorruptAuxField = errors.New("bam: corrupt aux field")
)

// auxSizes is the value size of each fixed-width aux type.  Variable
// width types are -1.
var auxSizes = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

func marshalRecord(r *sam.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := bam.Marshal(r, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshalRecord parses the output of bam.Marshal.  The returned
// record shares no memory with b.
func unmarshalRecord(header *sam.Header, b []byte) (*sam.Record, error) {
	if len(b) < blockSizeBytes+bamFixedBytes {
		return nil, errRecordTooShort
	}
	if size := int(binary.LittleEndian.Uint32(b)); size != len(b)-blockSizeBytes {
		return nil, fmt.Errorf("bam: block size %d, but %d bytes follow", size, len(b)-blockSizeBytes)
	}
	b = b[blockSizeBytes:]

	// int(int32(uint32)) keeps -1 as -1.
	r := &sam.Record{}
	refID := int(int32(binary.LittleEndian.Uint32(b)))
	r.Pos = int(int32(binary.LittleEndian.Uint32(b[4:])))
	nLen := int(b[8])
	r.MapQ = b[9]
	nCigar := int(binary.LittleEndian.Uint16(b[12:]))
	r.Flags = sam.Flags(binary.LittleEndian.Uint16(b[14:]))
	lSeq := int(int32(binary.LittleEndian.Uint32(b[16:])))
	nextRefID := int(int32(binary.LittleEndian.Uint32(b[20:])))
	r.MatePos = int(int32(binary.LittleEndian.Uint32(b[24:])))
	r.TempLen = int(int32(binary.LittleEndian.Uint32(b[28:])))

	if nLen < 1 || lSeq < 0 {
		return nil, fmt.Errorf("bam: corrupt record: name length %d, sequence length %d", nLen, lSeq)
	}
	nDoubletBytes := (lSeq + 1) >> 1
	auxOffset := bamFixedBytes + nLen + nCigar*4 + nDoubletBytes + lSeq
	if len(b) < auxOffset {
		return nil, fmt.Errorf("bam: corrupt record: len(b)=%d, auxoffset=%d", len(b), auxOffset)
	}

	off := bamFixedBytes
	r.Name = string(b[off : off+nLen-1]) // drop trailing '\0'
	off += nLen
	if nCigar > 0 {
		r.Cigar = make(sam.Cigar, nCigar)
		for i := range r.Cigar {
			r.Cigar[i] = sam.CigarOp(binary.LittleEndian.Uint32(b[off+i*4:]))
		}
		off += nCigar * 4
	}
	r.Seq.Length = lSeq
	r.Seq.Seq = make([]sam.Doublet, nDoubletBytes)
	for i, v := range b[off : off+nDoubletBytes] {
		r.Seq.Seq[i] = sam.Doublet(v)
	}
	off += nDoubletBytes
	r.Qual = append([]byte(nil), b[off:off+lSeq]...)
	off += lSeq

	var err error
	if r.AuxFields, err = parseAux(b[off:]); err != nil {
		return nil, err
	}

	refs := header.Refs()
	if refID != -1 {
		if refID < -1 || refID >= len(refs) {
			return nil, fmt.Errorf("bam: reference id %v out of range", refID)
		}
		r.Ref = refs[refID]
	}
	if nextRefID != -1 {
		if nextRefID < -1 || nextRefID >= len(refs) {
			return nil, fmt.Errorf("bam: mate reference id %v out of range", nextRefID)
		}
		r.MateRef = refs[nextRefID]
	}
	return r, nil
}

// parseAux splits the aux section of a BAM record into sam.Aux
// values.  'Z' and 'H' values lose their terminating zero, as in
// sam.Aux.
func parseAux(b []byte) ([]sam.Aux, error) {
	var aa []sam.Aux
	for i := 0; i < len(b); {
		if i+3 > len(b) {
			return nil, errCorruptAuxField
		}
		t := b[i+2]
		var n, keep int
		switch size := auxSizes[t]; {
		case size > 0:
			n = 3 + size
			keep = n
		case t == 'Z' || t == 'H':
			end := bytes.IndexByte(b[i+3:], 0)
			if end < 0 {
				return nil, errCorruptAuxField
			}
			keep = 3 + end
			n = keep + 1
		case t == 'B':
			if i+8 > len(b) || auxSizes[b[i+3]] <= 0 {
				return nil, errCorruptAuxField
			}
			n = 8 + int(binary.LittleEndian.Uint32(b[i+4:]))*auxSizes[b[i+3]]
			keep = n
		default:
			return nil, errCorruptAuxField
		}
		if n < 3 || i+n > len(b) {
			return nil, errCorruptAuxField
		}
		aa = append(aa, sam.Aux(append([]byte(nil), b[i:i+keep]...)))
		i += n
	}
	return aa, nil
}
