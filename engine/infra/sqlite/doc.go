// Package sqlite provides the modernc.org/sqlite backed document store used for
// standalone deployments and tests.
//
// The package mirrors the postgres driver layout: JSON bodies are stored as
// TEXT and queried with json_extract.
package sqlite
