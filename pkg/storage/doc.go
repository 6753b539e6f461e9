// Package storage persists users, conversations, messages, settings,
// blocked keywords and model definitions.
//
// Two backends implement Store:
//
//   - MemoryStore keeps everything in process memory. State is lost on
//     restart; it is meant for tests and throwaway instances.
//   - SQLStore keeps everything in a SQLite file. The pure-Go driver
//     (modernc.org/sqlite, driver name "sqlite") is the default; the cgo
//     driver (github.com/mattn/go-sqlite3, driver name "sqlite3") can be
//     selected for deployments that already ship cgo builds.
//
// Both backends enforce the same rules: the first user created becomes an
// administrator, usernames and keywords are unique, the first model added
// becomes the default, the default model cannot be deleted and the last
// remaining model cannot be deleted.
package storage
