// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

// bio-pairvalidate writes the placements proposed by a local realigner,
// keeping a moved read only if it still pairs with its mate.
//
// Usage: bio-pairvalidate -original orig.bam -updated realigned.bam -output out.bam
//
// orig.bam and realigned.bam must list the same reads in the same order.
// Reads of realigned.bam carrying the YO tag were moved by the realigner.

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/realign/encoding/spill"
	"github.com/grailbio/realign/pairvalidate"
)

var (
	originalFlag        = flag.String("original", "", "BAM file with the original placements. Required.")
	updatedFlag         = flag.String("updated", "", "BAM file with the realigned placements, in the same read order as -original. If empty, -original is copied unchanged.")
	outputFlag          = flag.String("output", "-", "Output BAM file. '-' means stdout.")
	minInsertFlag       = flag.Int("min-insert", -1, "Minimum insert length of a valid pair. Required.")
	maxInsertFlag       = flag.Int("max-insert", -1, "Maximum insert length of a valid pair. Required.")
	maxMateDistanceFlag = flag.Int("max-mate-distance", 0, "Maximum distance a read may move when its mate was not realigned. If 0, twice -max-insert.")
	scratchDirFlag      = flag.String("scratch-dir", "", "Directory for the spill files. If empty, the system temp dir.")
	spillShardsFlag     = flag.Int("spill-shards", spill.DefaultShards, "Number of spill partitions.")
	spillBufferFlag     = flag.Int("spill-buffer", spill.DefaultMaxBuffered, "Number of spilled reads held in memory before they are sorted into run files.")
	spillCodecFlag      = flag.String("spill-codec", "zstd", "Compression of the spill files: zstd, snappy, or none.")
	parallelismFlag     = flag.Int("parallelism", 1, "Number of spill partitions resolved concurrently. Values above 1 make the output order nondeterministic.")
	statsFlag           = flag.String("stats", "", "If set, write run statistics as TSV to this path. Gzipped if the name ends in .gz.")
)

// cmdOpts is the parsed command line.
type cmdOpts struct {
	originalPath string
	updatedPath  string
	outputPath   string
	statsPath    string
	opts         pairvalidate.Opts
}

// insertBounds checks that the insert length bounds were given.  The
// flags default to -1, so that 0 can be passed explicitly.
func insertBounds(minInsert, maxInsert int) error {
	var missing []string
	if minInsert < 0 {
		missing = append(missing, "-min-insert")
	}
	if maxInsert < 0 {
		missing = append(missing, "-max-insert")
	}
	if len(missing) > 0 {
		return errors.E(errors.Invalid, strings.Join(missing, " and "), "must be set to a non-negative value")
	}
	return nil
}

// run copies the reads of opts.originalPath to opts.outputPath, choosing
// between the original and realigned placement of each read.
func run(ctx context.Context, opts cmdOpts) (stats pairvalidate.Stats, err error) {
	in, err := newLockstepReader(ctx, opts.originalPath, opts.updatedPath)
	if err != nil {
		return stats, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	header := in.Header()
	out, err := createBAM(ctx, opts.outputPath, header)
	if err != nil {
		return stats, err
	}
	// A successful Flush closes out.
	defer func() {
		if err != nil {
			out.discard()
		}
	}()
	w, err := pairvalidate.NewWriter(header, out, opts.opts)
	if err != nil {
		return stats, err
	}
	defer func() {
		if e := w.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for {
		updated, original, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}
		if err := w.Add(updated, original); err != nil {
			return stats, err
		}
	}
	if stats, err = w.Flush(ctx); err != nil {
		return stats, err
	}
	if opts.statsPath != "" {
		if err = writeStats(ctx, opts.statsPath, stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage: bio-pairvalidate -original orig.bam -updated realigned.bam [-output out.bam]

Writes every read of orig.bam exactly once.  A read that the realigner moved
(YO tag in realigned.bam) keeps its new placement only if it forms a valid
pair with its mate's final placement: same reference, forward-reverse
orientation, insert length within [-min-insert, -max-insert].  Otherwise the
original placement is written.  Reads whose mate was not moved may move at
most -max-mate-distance.
`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	if *originalFlag == "" || len(flag.Args()) > 0 {
		flag.Usage()
		os.Exit(1)
	}
	if err := insertBounds(*minInsertFlag, *maxInsertFlag); err != nil {
		log.Fatalf("bad options: %v", err)
	}
	codec, err := spill.ParseCodec(*spillCodecFlag)
	if err != nil {
		log.Fatalf("-spill-codec: %v", err)
	}
	opts := cmdOpts{
		originalPath: *originalFlag,
		updatedPath:  *updatedFlag,
		outputPath:   *outputFlag,
		statsPath:    *statsFlag,
		opts: pairvalidate.Opts{
			MinInsertLength: *minInsertFlag,
			MaxInsertLength: *maxInsertFlag,
			MaxMateDistance: *maxMateDistanceFlag,
			ScratchDir:      *scratchDirFlag,
			SpillShards:     *spillShardsFlag,
			SpillBuffer:     *spillBufferFlag,
			SpillCodec:      codec,
			Parallelism:     *parallelismFlag,
		},
	}
	stats, err := run(vcontext.Background(), opts)
	if err != nil {
		if errors.Is(errors.Invalid, err) {
			log.Fatalf("bad options: %v", err)
		}
		log.Fatalf("pairvalidate %s: %v", opts.originalPath, err)
	}
	log.Printf("wrote %d reads, %d realigned", stats.Emitted, stats.Realigned)
}
