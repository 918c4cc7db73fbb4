// Package connectivity tracks backend reachability and notifies subscribers
// when the network comes back, which is what wakes the sync engine.
package connectivity
