// Package retry persists unresolved records between runs.
//
// Runs are independent processes, so the store is a file: read once when a
// run starts, rewritten once when it ends. Every rewrite goes to a
// temporary file in the same directory, is fsynced, and is renamed over the
// previous snapshot, so a crash leaves either the old or the new snapshot
// and never a torn one.
//
// # Lifecycle within a run
//
//  1. Open loads the snapshot (a missing file is an empty store).
//  2. TakeAll returns the records still inside the retention window and
//     empties the held set. Expired records are dropped here and never
//     re-offered.
//  3. Put merges the run's unresolved records into the held set and
//     rewrites the file. Records that resolved this run were taken in
//     step 2 and not put back, so they leave the store on this write.
//
// Retention is measured from CreatedAt, the moment a record first entered
// the store, not from when the request was observed.
//
// # File format
//
//	magic "UTRS" | version (1 byte) | compression tag (1 byte) | payload
//
// The payload is a CBOR (RFC 8949 core deterministic) snapshot, compressed
// according to the tag. An empty snapshot is a valid file.
package retry
