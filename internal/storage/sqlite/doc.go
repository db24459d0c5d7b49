// Package sqlite persists the feedback log and calibration history in an
// embedded SQLite database (modernc.org/sqlite, no cgo).
//
// Schema changes live in the migrations subpackage as numbered .up.sql
// files and are applied in order on open.
package sqlite
