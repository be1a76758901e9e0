/*
Package wire implements the self-describing envelope that carries digests,
deltas and full-state snapshots between replicas and into the operation
log. Envelopes are encoded with MessagePack; identical logical content
round-trips through Marshal and Unmarshal, although re-serializations of
merged equivalent state need not be byte-identical since internal set and
map ordering carries no meaning.
*/
package wire
