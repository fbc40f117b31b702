// Package store defines the persistence interface for run history and
// repository registrations, implemented in-memory (store/memory) and on
// SQLite (store/sqlite).
package store
