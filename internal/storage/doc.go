// Package storage provides the durable state layer behind the relay.
//
// It currently persists:
//   - Contact records (which peers have messaged the owner before)
//   - Per-channel notification mutes (optionally expiring)
//   - A delivery log (outcome of each notification attempt chain)
package storage
