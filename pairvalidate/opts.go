// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairvalidate

import (
	"fmt"
	"os"

	"github.com/grailbio/realign/encoding/spill"
)

const (
	// DefaultProgressInterval is the default number of input reads
	// between progress log lines.
	DefaultProgressInterval = 100000
)

// Opts configures a Writer.
type Opts struct {
	// MinInsertLength and MaxInsertLength bound the insert length of a
	// valid pair.  There is no default: MaxInsertLength must be
	// positive, and a MinInsertLength of 0 accepts any pair up to
	// MaxInsertLength.
	MinInsertLength int
	MaxInsertLength int

	// MaxMateDistance is the furthest a lone candidate may move from its
	// original start.  If <= 0, 2*MaxInsertLength is used.
	MaxMateDistance int

	// ScratchDir is where candidates are spilled.  "" means the system
	// default.
	ScratchDir string
	// SpillShards is the number of spill partitions.  If <= 0,
	// spill.DefaultShards is used.
	SpillShards int
	// SpillBuffer is the number of spilled candidates held in memory
	// before they are sorted into run files.  If <= 0,
	// spill.DefaultMaxBuffered is used.
	SpillBuffer int
	// SpillCodec is the on-disk compression of spilled candidates.
	SpillCodec spill.Codec

	// Parallelism is the number of spill partitions resolved
	// concurrently.  If <= 0, 1 is used, which makes the output order
	// deterministic.
	Parallelism int

	// ProgressInterval is the number of input reads between progress
	// log lines.  If <= 0, DefaultProgressInterval is used.
	ProgressInterval int

	// Normalizer is applied to every record right before it is written.
	// If nil, records are written unchanged.
	Normalizer Normalizer
}

func validate(opts *Opts) error {
	if opts.MinInsertLength < 0 {
		return fmt.Errorf("min-insert must be non-negative, got %d", opts.MinInsertLength)
	}
	if opts.MaxInsertLength <= 0 {
		return fmt.Errorf("max-insert must be set to a positive value, got %d", opts.MaxInsertLength)
	}
	if opts.MinInsertLength > opts.MaxInsertLength {
		return fmt.Errorf("min-insert (%d) must not exceed max-insert (%d)",
			opts.MinInsertLength, opts.MaxInsertLength)
	}
	if opts.MaxMateDistance <= 0 {
		opts.MaxMateDistance = 2 * opts.MaxInsertLength
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if st, err := os.Stat(opts.ScratchDir); err != nil {
		return fmt.Errorf("scratch-dir %s: %v", opts.ScratchDir, err)
	} else if !st.IsDir() {
		return fmt.Errorf("scratch-dir %s is not a directory", opts.ScratchDir)
	}
	if opts.SpillShards <= 0 {
		opts.SpillShards = spill.DefaultShards
	}
	if opts.SpillBuffer <= 0 {
		opts.SpillBuffer = spill.DefaultMaxBuffered
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Normalizer == nil {
		opts.Normalizer = identity{}
	}
	return nil
}
