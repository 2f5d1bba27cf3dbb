// Package service implements the replication coordinators for KiteSync.
//
// Primary owns the commit log: it orders mutations, mints commit
// tokens, tracks replica progress, runs retention and serves the
// transport exports replicas pull from. Replica drives the other side:
// bootstrap from a snapshot, ordered catch-up over log pages, reseed
// when it falls behind the retained window, and bounded waiting for a
// commit token.
//
// AdminGate evaluates the control-plane authorization policy. Its
// configuration is validated when the gate is built; request handling
// never discovers configuration mistakes.
package service
