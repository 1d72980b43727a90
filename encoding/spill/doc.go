// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package spill provides a bounded-memory, disk-backed holding area
  for realignment candidates whose pairing decision has to wait for
  the mate.

  Records arrive in coordinate order, so a read's mate may show up
  much later in the input, or never.  A Store accepts candidates in
  any order with Append(), and after Finalize() makes them available
  grouped by read name.  The candidates are hashed by read name into
  a fixed number of partitions, so both mates of a pair always land in
  the same partition.

  Each partition is an external sort.  Candidates are buffered in
  memory up to Opts.MaxBuffered (split evenly across partitions), then
  sorted by name and written to a recordio run file in a private temp
  directory.  Runs of the same size class are merged once there are
  enough of them.  Reading a partition merges its runs and its
  in-memory tail, and yields one group at a time, so memory stays
  bounded however many candidates are spilled.

  Typical use:

    store, err := spill.NewStore(header, spill.Opts{Dir: "/tmp"})
    ...
    defer store.Close()
    for ... {
      err = store.Append(spill.Candidate{Name: r.Name, Updated: r, Original: spill.Resolved(orig)})
    }
    err = store.Finalize()
    for i := 0; i < store.NumPartitions(); i++ {
      iter, err := store.Groups(i)
      for iter.Scan() {
        g := iter.Group()
        ...
      }
      err = iter.Close()
    }

  Groups() for a given partition can be called only once; its run
  files are removed when the iterator is exhausted or closed.
*/
package spill
