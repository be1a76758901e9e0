/*
Package crdt implements the state-based conflict-free replicated data types
(CvRDTs) that concord synchronizes between federation nodes: a grow-only
counter, an increment/decrement counter, an observed-removed set, a
last-writer-wins register and a composite observed-removed map that nests
any of the former.

CAUTION! Consider these two properties:
* Every type's Merge is commutative, associative and idempotent, so replicas
  converge under arbitrary message reordering, duplication and partition.
  Merge never discards information: tombstones persist and counter entries
  never decrease.
* Each instance synchronizes access to itself with an internal lock held for
  the duration of a single operation. Atomicity across multiple instances,
  for example when applying a delta batch, has to be provided by the caller,
  e.g. by package node.

The observed-removed set and map implementations of this package are a
practical derivation from their specification by Shapiro, Preguiça, Baquero
and Zawirski, available under:
https://hal.inria.fr/inria-00555588/document
*/
package crdt
