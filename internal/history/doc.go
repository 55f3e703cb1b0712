// Package history accumulates monthly snapshots of item-to-record ownership
// into a durable per-record history and derives redirects for records that
// have disappeared.
//
// A run is strictly sequential: one or more Ingest calls (or a Load of a
// previous dump), then ComputeCurrent as of the newest period, then
// PruneDead, then Redirects. Every redirect target is live as of the newest
// period, so the redirect relation is single-hop and never needs chain
// resolution.
package history
