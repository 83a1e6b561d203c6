// Package archive keeps the source text of saved formulas in S3.
//
// Sources are stored content addressed under formula-sources/sha256/ab/cdef...
// so identical text is uploaded once. A small pointer object under
// formula-sources/latest/<id> names the hash most recently saved for each
// formula id.
//
// The archive is an audit trail. The engine logs archive failures and never
// fails a save because of them.
package archive
