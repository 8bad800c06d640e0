// Package database provides the SQLite connection backing the local shadow
// store.
//
// SQLite fits the controller's profile: a single writer (the shadow
// synchronizer), occasional readers (REST shadow reads), and a need for the
// store to survive restarts without any external service. WAL mode keeps
// reads from blocking behind writes.
package database
