package interfaces

// ReplicaDelta describes the net effect one merged operation had on the
// flattened text: Length is positive for an insertion at Offset and negative
// for a deletion starting at Offset. Consumers use it to shift cursor offsets
// so carets stay visually stable while peers edit elsewhere.
type ReplicaDelta struct {
	Offset int
	Length int
}

// TextReplica is one copy of a conflict-free replicated text document.
// Updates are opaque byte payloads: applying the same update twice is a
// no-op and updates merge to the same text in any arrival order. The store
// and the realtime channel depend only on this contract so the backing CRDT
// can be swapped without touching either.
type TextReplica interface {
	// ApplyLocalEdit diffs prior against next (longest common prefix/suffix
	// trim), commits the minimal edit locally, and returns the encoded update
	// to forward to peers. The update is tagged local so it is never echoed
	// back into the originating editor.
	ApplyLocalEdit(prior, next string) ([]byte, []ReplicaDelta, error)

	// Export encodes the replica's full state, including tombstones, for the
	// open handshake. Merging an export into any replica converges both.
	Export() []byte

	// MergeUpdate applies an update received from a peer. A corrupt payload
	// returns an error and leaves the replica at its last known good state.
	MergeUpdate(update []byte) ([]ReplicaDelta, error)

	// String flattens the replica into its current text.
	String() string
}

// ReplicaFactory builds a replica for a site seeded with initial text. The
// site identifier disambiguates concurrent operations and must be unique per
// replica instance.
type ReplicaFactory func(site string, text string) TextReplica
