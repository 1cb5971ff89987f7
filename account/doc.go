// Package account defines the identity record, its one-time code and bridge
// token slots, and the gorm-backed repository that persists them.
//
// # Concurrency
//
// Every slot mutation goes through [Repository.Update]. The gorm [Store]
// implements it as an optimistic read-modify-write on the version column, so
// two requests racing on the same code or token cannot both observe it as
// valid and both consume it.
//
// # Storage
//
// [Open] supports PostgreSQL in production and SQLite for tests and local
// development. Codes, bridge tokens, and backup codes are stored as hashes only.
package account
