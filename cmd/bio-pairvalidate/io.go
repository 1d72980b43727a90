// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

// This file defines the BAM input and output of bio-pairvalidate, and the
// stats TSV.

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/realign/pairvalidate"
	"github.com/klauspost/compress/gzip"
	pkgerrors "github.com/pkg/errors"
)

// bamInput is one open BAM file.
type bamInput struct {
	path string
	f    file.File
	r    *bam.Reader
}

func openBAM(ctx context.Context, path string) (*bamInput, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open %s", path)
	}
	r, err := bam.NewReader(f.Reader(ctx), runtime.NumCPU())
	if err != nil {
		f.Close(ctx) // nolint: errcheck
		return nil, pkgerrors.Wrapf(err, "%s: read BAM header", path)
	}
	return &bamInput{path: path, f: f, r: r}, nil
}

func (in *bamInput) close(ctx context.Context) error {
	e := errors.Once{}
	e.Set(in.r.Close())
	e.Set(in.f.Close(ctx))
	return e.Err()
}

// lockstepReader reads the original BAM and, optionally, the realigned
// BAM, one read from each at a time.  Both files must list the same
// reads in the same order.
type lockstepReader struct {
	original *bamInput
	updated  *bamInput // nil if there is no realigned BAM.
	n        int
}

func newLockstepReader(ctx context.Context, originalPath, updatedPath string) (*lockstepReader, error) {
	original, err := openBAM(ctx, originalPath)
	if err != nil {
		return nil, err
	}
	l := &lockstepReader{original: original}
	if updatedPath != "" {
		if l.updated, err = openBAM(ctx, updatedPath); err != nil {
			original.close(ctx) // nolint: errcheck
			return nil, err
		}
		if err = sameReferences(original.r.Header(), l.updated.r.Header()); err != nil {
			l.Close(ctx) // nolint: errcheck
			return nil, pkgerrors.Wrapf(err, "%s and %s", originalPath, updatedPath)
		}
	}
	return l, nil
}

// sameReferences checks that two headers list the same references in
// the same order, so that records of one can be written under the
// other.
func sameReferences(a, b *sam.Header) error {
	ra, rb := a.Refs(), b.Refs()
	if len(ra) != len(rb) {
		return pkgerrors.Errorf("%d vs %d references", len(ra), len(rb))
	}
	for i := range ra {
		if ra[i].Name() != rb[i].Name() || ra[i].Len() != rb[i].Len() {
			return pkgerrors.Errorf("reference %d differs: %s:%d vs %s:%d",
				i, ra[i].Name(), ra[i].Len(), rb[i].Name(), rb[i].Len())
		}
	}
	return nil
}

// Header returns the header of the realigned BAM if there is one, else
// the header of the original BAM.
func (l *lockstepReader) Header() *sam.Header {
	if l.updated != nil {
		return l.updated.r.Header()
	}
	return l.original.r.Header()
}

// Read returns the next read's updated and original records.  updated
// is nil if the realigner proposed nothing for the read.  It returns
// io.EOF after the last read.
func (l *lockstepReader) Read() (updated, original *sam.Record, err error) {
	original, err = l.original.r.Read()
	if err != nil && err != io.EOF {
		return nil, nil, pkgerrors.Wrapf(err, "%s: read record %d", l.original.path, l.n)
	}
	if l.updated == nil {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		l.n++
		return nil, original, nil
	}
	origEOF := err == io.EOF
	updated, err = l.updated.r.Read()
	if err != nil && err != io.EOF {
		return nil, nil, pkgerrors.Wrapf(err, "%s: read record %d", l.updated.path, l.n)
	}
	updEOF := err == io.EOF
	switch {
	case origEOF && updEOF:
		return nil, nil, io.EOF
	case origEOF || updEOF:
		return nil, nil, pkgerrors.Errorf("%s and %s have different numbers of records (stopped at record %d)",
			l.original.path, l.updated.path, l.n)
	case original.Name != updated.Name:
		return nil, nil, pkgerrors.Errorf("record %d: %s has %s, but %s has %s",
			l.n, l.original.path, original.Name, l.updated.path, updated.Name)
	}
	l.n++
	if updated.Flags&sam.Unmapped != 0 && original.Flags&sam.Unmapped == 0 {
		// The realigner dropped the placement.
		updated = nil
	}
	return updated, original, nil
}

// Close closes the input files.
func (l *lockstepReader) Close(ctx context.Context) error {
	e := errors.Once{}
	e.Set(l.original.close(ctx))
	if l.updated != nil {
		e.Set(l.updated.close(ctx))
	}
	return e.Err()
}

// bamOutput writes records to a BAM file, or to stdout if the path is
// "" or "-".  It implements pairvalidate.RecordWriter.
type bamOutput struct {
	ctx    context.Context
	f      file.File // nil for stdout.
	w      *bam.Writer
	closed bool
}

func createBAM(ctx context.Context, path string, header *sam.Header) (*bamOutput, error) {
	var (
		out io.Writer = os.Stdout
		f   file.File
		err error
	)
	if path != "" && path != "-" {
		if f, err = file.Create(ctx, path); err != nil {
			return nil, pkgerrors.Wrapf(err, "create %s", path)
		}
		out = f.Writer(ctx)
	}
	w, err := bam.NewWriter(out, header, runtime.NumCPU())
	if err != nil {
		if f != nil {
			f.Close(ctx) // nolint: errcheck
		}
		return nil, pkgerrors.Wrapf(err, "%s: write BAM header", path)
	}
	return &bamOutput{ctx: ctx, f: f, w: w}, nil
}

func (o *bamOutput) Write(r *sam.Record) error { return o.w.Write(r) }

// Close flushes the BAM writer and closes the file.  Calls after the
// first are no-ops.
func (o *bamOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	e := errors.Once{}
	e.Set(o.w.Close())
	if o.f != nil {
		e.Set(o.f.Close(o.ctx))
	}
	return e.Err()
}

// discard abandons an output that was not closed yet.  A file output
// is removed instead of being published at its path.
func (o *bamOutput) discard() {
	if o.closed {
		return
	}
	o.closed = true
	o.w.Close() // nolint: errcheck
	if o.f != nil {
		o.f.Discard(o.ctx)
	}
}

type statRow struct {
	Name  string `tsv:"stat"`
	Value int64  `tsv:"value"`
}

// writeStats writes stats as a two-column TSV.  The file is gzipped if
// its name ends in ".gz".
func writeStats(ctx context.Context, path string, stats pairvalidate.Stats) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return pkgerrors.Wrapf(err, "create %s", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	var (
		w  io.Writer = f.Writer(ctx)
		gz *gzip.Writer
	)
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(w)
		w = gz
	}
	tw := tsv.NewRowWriter(w)
	for _, field := range stats.Fields() {
		if err = tw.Write(&statRow{field.Name, int64(field.Value)}); err != nil {
			return pkgerrors.Wrapf(err, "%s: write", path)
		}
	}
	if err = tw.Flush(); err != nil {
		return pkgerrors.Wrapf(err, "%s: flush", path)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return pkgerrors.Wrapf(err, "%s: close gzip stream", path)
		}
	}
	return nil
}
