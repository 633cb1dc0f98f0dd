// Package state persists per-file download records for a repository.
//
// A RepositoryState maps remote paths to FileRecords. A record is only ever
// written after the local copy of a path was fully transferred and its digest
// computed, so a record never describes a partially written file.
//
// State is stored as one indented JSON object per repository in a
// gocloud.dev/blob bucket. The CLI opens a fileblob bucket rooted at the save
// directory; fileblob writes to a temporary file and renames it into place, so
// readers never observe a partially written record.
//
// # Schema
//
//	{
//	  "repo": "org/model",
//	  "revision": "main",
//	  "files": {
//	    "config.json": {"size": 512, "md5": "…", "timestamp": 1735689600}
//	  }
//	}
//
// # Concurrency
//
// Store serializes every read-modify-write behind a single mutex that also
// covers the persistence call. Workers call Store.Update and never write the
// state object themselves.
package state
