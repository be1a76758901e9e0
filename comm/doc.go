/*
Package comm abstracts the peer transport that carries gossip payloads
between nodes. The synchronization engine only consumes the Transport
interface and is agnostic to the underlying delivery guarantees; it has
to tolerate duplicated and reordered delivery by construction. Two
implementations ship with this package: a TCP transport exchanging
length-prefixed frames between configured peers, and an in-process
loopback network with link cutting for partition tests.
*/
package comm
