// Package backend provides the relational client of the Dinodia sync core:
// user accounts, automation-connection bindings, tenant access rules, and
// per-device display overrides, all persisted in SQLite.
//
// The Resolver implements the household topology rule that matters most:
// tenants are always pinned to the first admin's connection, with explicit
// connection ids backfilled so repeated resolution converges without
// further writes.
package backend
