/*
Package storage implements the append-only operation log the
synchronization engine consumes for audit, replay after restart and
delta computation during gossip rounds. The log is written by the local
node only for its own operations, never on behalf of a remote replica,
which keeps provenance unambiguous. In-memory merge correctness does not
depend on it.
*/
package storage
