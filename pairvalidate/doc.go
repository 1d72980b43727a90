// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package pairvalidate decides, for reads moved by an indel realigner,
  whether the realigned placement is kept or the read falls back to
  the placement chosen by the original mapper.  The goal is to keep
  read pairs consistent: on the same reference, with an insert length
  inside [MinInsertLength, MaxInsertLength], and facing each other
  (leftmost mate forward, rightmost mate reverse).

  A Writer receives every read as an (updated, original) pair, in
  coordinate order, through Add().  Most reads are decided on the
  spot:

    1) no updated record: write the original.
    2) updated record without the YO tag (realigner did not move it):
       write the updated record.
    3) original is not flagged as a proper pair: write the updated
       record, since there is no pairing to preserve.

  Every other read is a candidate.  Its mate may not have been seen
  yet, so the candidate is spilled to disk (package encoding/spill).
  Flush() ends the collecting phase, groups the spilled candidates by
  read name, and resolves each group:

    - Both mates spilled: the first valid pairing of (updated, updated),
      (updated, original), (original, updated) wins; otherwise both
      mates fall back to their originals.
    - One mate spilled: the updated placement is kept unless it moved
      to another reference, or further than MaxMateDistance from the
      original.

  Each input read is written exactly once.  Reads resolved in the
  second phase are written after all reads decided in the first phase,
  so the output is not in coordinate order.

  Records are normalized by Opts.Normalizer (for example, left-shifting
  indels) right before they are written.
*/
package pairvalidate
