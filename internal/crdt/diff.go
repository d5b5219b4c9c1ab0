package crdt

// editRegion is the minimal span separating two texts: at offset, removed
// runes were deleted and inserted runes were added.
type editRegion struct {
	offset   int
	removed  int
	inserted []rune
}

func (e editRegion) empty() bool {
	return e.removed == 0 && len(e.inserted) == 0
}

// diffRegion trims the longest common prefix and suffix of prior and next and
// returns what changed in between. Single keystrokes reduce to a one-rune
// insert or delete; paste and cut reduce to one contiguous region.
func diffRegion(prior, next []rune) editRegion {
	prefix := 0
	max := len(prior)
	if len(next) < max {
		max = len(next)
	}
	for prefix < max && prior[prefix] == next[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < max-prefix &&
		prior[len(prior)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}

	return editRegion{
		offset:   prefix,
		removed:  len(prior) - prefix - suffix,
		inserted: next[prefix : len(next)-suffix],
	}
}
