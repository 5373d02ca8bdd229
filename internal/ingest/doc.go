// Package ingest runs procedure sync passes: list a catalog, fetch each
// procedure, inject the shared preamble, parse, dedup against the store and
// write.
//
// Overview
//
// A pass is resilient. A failed listing aborts it before anything is
// written; after that every item succeeds or fails on its own, and a failed
// item is logged with its stage and error kind while the rest continue.
//
//	Catalog.List
//	     ↓ (per id, in parallel)
//	Catalog.Fetch → Preamble.Inject → Parse
//	     ↓ (serialized per dedup key)
//	Resolver.Resolve → Store.Insert | Store.Update
//
// Local files and the bundled default procedures go through the same
// per-item pipeline via ImportFile, ImportFiles, ImportBody and
// LoadDefaults.
package ingest
