// Package keys implements the key codec: it maps hierarchical logical keys
// (namespace, database, table, record or index identifier) onto byte strings
// whose lexicographic order equals the hierarchical nesting order. Scanning a
// prefix therefore enumerates exactly one logical subtree and never leaks
// sibling records.
//
// The encoded layout is:
//
//	/                                  root tag
//	*<namespace>\x00                   namespace level
//	*<database>\x00                    database level
//	*<table>\x00                       table level
//	*<record id>                       data row
//	+<index>\x00<record id>            secondary index entry
//	!tb                                table metadata
//	!cf<10-byte versionstamp>          change feed entry (root level)
//
// String components are NUL-terminated; an embedded NUL is escaped as
// \x00\xff so that no encoded key is a byte-prefix of an unrelated key.
// Record identifiers are tagged: numeric identifiers (tag \x01) use a
// sign-flipped big-endian encoding so that -1 sorts before 0 sorts before 10,
// and sort before string identifiers (tag \x02).
//
// The codec is pure and stateless; all functions are safe for concurrent use.
package keys
