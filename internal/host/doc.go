// Package host models the runtime that drives offline-agent generations.
//
// A generation is one deployed version of the agent, identified by its cache
// version name. The runtime fires install and activate on it, keeps at most one
// generation activated, and routes every consumer request through the active
// generation's OnRequest handler. Requests the handler does not intercept go
// straight to the network fetcher.
package host
