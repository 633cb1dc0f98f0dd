// Package checksum computes content digests of local files.
//
// Digests are MD5 hex strings computed over the full byte stream of a file
// using fixed-size sequential reads, so memory use does not depend on the
// file size. The same bytes always produce the same digest.
//
// # Usage
//
//	sum, err := checksum.File("model.safetensors")
//	if err != nil {
//	    // err wraps ErrRead
//	}
package checksum
