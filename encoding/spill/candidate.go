// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spill

import (
	"encoding/binary"
	"fmt"

	farm "github.com/dgryski/go-farm"
	"github.com/gogo/protobuf/proto"
	"github.com/grailbio/hts/sam"
)

// Original holds the original placement of a spilled read.  It is
// either Unresolved (the serialized record, as read back from disk) or
// Resolved (a decoded record).  Use Record() to get the decoded form.
type Original struct {
	raw []byte
	rec *sam.Record
}

// Unresolved returns an Original backed by a record in the form
// written by bam.Marshal.
func Unresolved(b []byte) Original {
	return Original{raw: b}
}

// Resolved returns an Original backed by a decoded record.
func Resolved(r *sam.Record) Original {
	return Original{rec: r}
}

// IsResolved returns true if o holds a decoded record.
func (o Original) IsResolved() bool {
	return o.rec != nil
}

// Record returns the decoded original record.  For an Unresolved value
// the record is parsed against header on every call; o itself is not
// modified.
func (o Original) Record(header *sam.Header) (*sam.Record, error) {
	if o.rec != nil {
		return o.rec, nil
	}
	if len(o.raw) == 0 {
		return nil, fmt.Errorf("spill: empty original record")
	}
	return unmarshalRecord(header, o.raw)
}

func (o Original) bytes() ([]byte, error) {
	if o.rec != nil {
		return marshalRecord(o.rec)
	}
	if len(o.raw) == 0 {
		return nil, fmt.Errorf("spill: empty original record")
	}
	return o.raw, nil
}

// Candidate is a read whose updated placement needs its mate before it
// can be accepted.
type Candidate struct {
	// Name is the read name; candidates are grouped by it.
	Name string
	// Updated is the placement proposed by the realigner.  It is nil if
	// the spilled record could not be decoded, in which case UpdatedErr
	// is set.
	Updated *sam.Record
	// UpdatedErr is the decoding error for Updated, if any.
	UpdatedErr error
	// Original is the placement produced by the original mapper.
	Original Original
}

// A candidate frame is:
//
//   name     length-delimited string
//   updated  length-delimited BAM record
//   original length-delimited BAM record
//   check    uint32 farm fingerprint of the above, little endian
const checksumSize = 4

func encodeFrame(name string, updated, original []byte) []byte {
	buf := proto.NewBuffer(make([]byte, 0, len(name)+len(updated)+len(original)+16))
	// Writes into a growing byte slice do not fail.
	_ = buf.EncodeStringBytes(name)
	_ = buf.EncodeRawBytes(updated)
	_ = buf.EncodeRawBytes(original)
	payload := buf.Bytes()
	var check [checksumSize]byte
	binary.LittleEndian.PutUint32(check[:], farm.Fingerprint32(payload))
	return append(payload, check[:]...)
}

// decodeFrame splits a frame into its three fields.  An error means the
// frame is unusable as a whole.
func decodeFrame(frame []byte) (name string, updated, original []byte, err error) {
	if len(frame) < checksumSize {
		return "", nil, nil, fmt.Errorf("spill: frame too short (%d bytes)", len(frame))
	}
	payload := frame[:len(frame)-checksumSize]
	want := binary.LittleEndian.Uint32(frame[len(frame)-checksumSize:])
	if got := farm.Fingerprint32(payload); got != want {
		return "", nil, nil, fmt.Errorf("spill: frame checksum mismatch: got %x, want %x", got, want)
	}
	buf := proto.NewBuffer(payload)
	if name, err = buf.DecodeStringBytes(); err != nil {
		return
	}
	if updated, err = buf.DecodeRawBytes(true); err != nil {
		return
	}
	if original, err = buf.DecodeRawBytes(true); err != nil {
		return
	}
	return
}

func encodeCandidate(c Candidate) ([]byte, error) {
	if c.Updated == nil {
		return nil, fmt.Errorf("spill: candidate %s has no updated record", c.Name)
	}
	updated, err := marshalRecord(c.Updated)
	if err != nil {
		return nil, fmt.Errorf("spill: marshal updated %s: %v", c.Name, err)
	}
	original, err := c.Original.bytes()
	if err != nil {
		return nil, fmt.Errorf("spill: marshal original %s: %v", c.Name, err)
	}
	return encodeFrame(c.Name, updated, original), nil
}

// decodeCandidate turns a frame back into a Candidate.  A bad updated
// half is reported in Candidate.UpdatedErr; the original half is left
// serialized.
func decodeCandidate(header *sam.Header, frame []byte) (Candidate, error) {
	name, updated, original, err := decodeFrame(frame)
	if err != nil {
		return Candidate{}, err
	}
	c := Candidate{Name: name, Original: Unresolved(original)}
	if c.Updated, err = unmarshalRecord(header, updated); err != nil {
		c.Updated = nil
		c.UpdatedErr = fmt.Errorf("spill: decode updated %s: %v", name, err)
	}
	return c, nil
}
