// Package kvstore is the small string key/value store that request
// budgets persist through.
//
// SQLiteStore is backed by the kv_store table; MemoryStore serves tests
// and deployments that don't want budgets to survive a restart.
package kvstore
