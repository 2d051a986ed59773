// Package pkg provides the core libraries for N-link basin analysis.
//
// # Overview
//
// Take a link graph where every page has an ordered list of outgoing links.
// Fix N and keep only each page's Nth link: every page now has at most one
// successor, so following successors from any page ends in HALT (a page with
// fewer than N links) or in a cycle. The pages that end in one cycle form
// its basin. nlink finds the cycles, maps every basin, measures how much of
// a basin funnels through its largest entry branches, and compares basins
// across N to find pages whose destination changes with N.
//
// # Architecture
//
// The data flow through nlink:
//
//	Link tables (files, badger store, Postgres)
//	         ↓
//	    [linkstore] package (ordered link sequences per page)
//	         ↓
//	    [successor] package (Nth-link successor function and its inverse)
//	         ↓
//	    [trace] package (paths, canonical cycles, cycle discovery)
//	         ↓
//	    [basin] package (reverse BFS from each cycle)
//	         ↓
//	    [branch] + [trunk] packages (entry branches, concentration metrics)
//	         ↓
//	    [tunnel] package (basin membership across N)
//	         ↓
//	    [tables] package (JSON lines or MongoDB)
//
// # Quick Start
//
//	import (
//	    "github.com/matzehuels/nlink/pkg/linkstore"
//	    "github.com/matzehuels/nlink/pkg/pipeline"
//	    "github.com/matzehuels/nlink/pkg/tables"
//	)
//
//	store, _ := linkstore.Load("links.tsv", "")
//	sink, _ := tables.NewFileSink("out")
//	defer sink.Close(ctx)
//
//	runner := pipeline.NewRunner(nil, nil, logger)
//	res, err := runner.Execute(ctx, store, sink, pipeline.Options{Ns: []int{1, 2, 3}})
//
// # Main Packages
//
// ## Analysis
//
// [successor] - Dense successor index for one N. Positions are int32 so the
// inverse relation of a large graph fits in two flat arrays.
//
// [trace] - Deterministic walks from a start page, canonical cycle keys such
// as "12-40-77", and discovery of every cycle of an index.
//
// [basin] - Layered reverse BFS from a cycle with depth and row budgets. A
// budget-limited map is marked partial, never failed.
//
// [branch] - Partition of a basin by entry node.
//
// [trunk] - Top-k shares, effective branch count, Gini coefficient and
// normalized entropy of branch sizes.
//
// [tunnel] - Per-page classification of basin changes across N.
//
// ## Infrastructure
//
// [pipeline] - Runs every stage for a set of N values with bounded
// concurrency and caching. Used by the CLI.
//
// [cache] - File, Redis and null caches for cycle lists and basin maps,
// keyed by the store digest.
//
// [tables] - Batched table writers over a file or MongoDB sink.
//
// [config] - TOML and YAML config files with validation.
//
// [observability] + [metrics] - Hook interfaces and their Prometheus
// implementation.
//
// [errors] - Error codes shared by every package.
//
// # Testing
//
// Run tests:
//
//	go test ./pkg/...                 # All tests
//	go test ./pkg/basin/...           # Specific package
//	go test -run Example ./pkg/...    # Examples only
package pkg
