// Package cache avoids re-sending identical code for the same remote method.
//
// Ownership boundary:
// - content-fingerprinted cache keys
// - deployment entries with access bookkeeping
// - expiry by age, inactivity, and capacity pressure
// - optional durable persistence of entries
package cache
