// Package cache defines the named cache stores the offline agent writes
// responses into. A Storage hands out Store handles by version-qualified name
// (for example "money-mgmt-v2"), lists existing names and deletes stale ones
// during activation. Three drivers share the same contract: an in-memory map,
// a directory tree on an afero filesystem (temp file + rename writes) and a
// bbolt database with one bucket per store. Entries are request identities
// (method + URL, GET only) mapped to owned response snapshots, so the agent can
// hand a cached copy back without touching the network.
package cache
