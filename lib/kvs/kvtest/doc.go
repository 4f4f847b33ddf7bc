// Package kvtest provides the conformance test suite for kvs.Driver
// implementations. Driver packages call RunDriverTests from their own tests
// to verify the full transactional contract: snapshot reads, first-committer
// -wins conflict detection, conditional mutations, cursor semantics and the
// change feed.
//
// WrapApplier additionally lets a natively committing driver be re-tested
// through the latch-based fallback commit path.
package kvtest
