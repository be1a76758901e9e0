/*
Package node ties the engine together into one explicitly owned
synchronization context per process: the local replica identity, the
vector clock, the root composite map holding all shared state, and the
append-only operation log. It exposes the typed consumer API and
implements the replica surface the gossip synchronizer drives.

Every local mutation runs through a commit that advances the local
vector clock entry, stamps and appends the operation to the log and
offers it to the transport for immediate broadcast. Remote state is
never written in place; it arrives through ApplyDelta, which merges a
whole delta batch while local readers and writers are held off, so no
partially merged intermediate state becomes visible.
*/
package node
