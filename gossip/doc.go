/*
Package gossip implements the anti-entropy machinery that drives
divergent replicas toward convergence: a synchronizer running digest
and delta exchanges with one peer per round, and a scheduler triggering
rounds periodically or on demand against randomly selected peers.

Correctness never depends on deltas being minimal or on rounds
completing: merge is commutative, associative and idempotent, so a
full-state exchange is a valid substitute for a delta and an aborted
round leaves no partial state behind. Transient transport failures are
logged and retried on the next tick, they are never surfaced to the
consumer API.
*/
package gossip
