//go:build !sqlite_fts5

package store

// The index schema creates an FTS5 virtual table, and mattn/go-sqlite3 only
// compiles the FTS5 module in when the sqlite_fts5 build tag is set:
//
//	go build -tags sqlite_fts5 ./...
//	go test -tags sqlite_fts5 ./...
//
// Failing here keeps the error at build time instead of a runtime
// "no such module: fts5" on the first Open.
var _ = buildRequiresTheSqliteFTS5Tag
