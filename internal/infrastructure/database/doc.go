// Package database manages the SQLite connection for the Dinodia sync core.
//
// The same database file backs both the relational tables (users,
// connections, access rules, device overrides) and the key-value snapshot
// store. Migrations are embedded into the binary and applied on startup,
// each in its own transaction.
package database
