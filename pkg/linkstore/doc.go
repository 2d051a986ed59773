// Package linkstore holds the read-only page and link-sequence tables that an
// N-link analysis runs over.
//
// # Overview
//
// Every page owns an ordered link sequence: the ids of the pages it links to,
// in appearance order. The order is load-bearing. Position N (1-indexed) of a
// page's sequence is its successor under the N-link rule, so the store never
// reorders, deduplicates or otherwise rewrites a sequence once loaded.
//
// # Backends
//
// [Store] is implemented by:
//
//   - [MemoryStore]: a map of sequences, filled by the file loaders or by
//     [LoadPostgres]. Suitable for anything that fits in RAM.
//   - [BadgerStore]: an embedded BadgerDB keyed by page id with
//     snappy-compressed values, populated once by "nlink import" and then
//     queried by id.
//
// # File Formats
//
// Link sequences may be JSON lines or TSV:
//
//	{"page_id": 12, "links": [40, 77, 3]}
//	12	40,77,3
//
// Pages may be JSON lines or TSV:
//
//	{"page_id": 12, "title": "Philosophy", "namespace": 0, "is_redirect": false}
//	12	Philosophy	0	false
//
// The format is picked from the file extension by [ImportLinks] and
// [ImportPages] (".jsonl"/".ndjson"/".json" or ".tsv"/".txt").
//
// # Concurrency
//
// Stores are written during loading only. Once loading is done every read
// method is safe for concurrent use, which is what the pipeline relies on
// when it builds indices for several N values at once.
package linkstore
