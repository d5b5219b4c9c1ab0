package crdt

// Atoms are ordered by dense position identifiers rather than indices, so
// concurrent inserts at the same spot never need coordination: every replica
// sorts the same identifiers into the same sequence. An identifier is a path
// of (digit, site) elements; the site breaks ties between digits allocated
// concurrently by different replicas.

const digitBase = 1 << 16

type pathElem struct {
	Digit uint32 `json:"d"`
	Site  string `json:"s,omitempty"`
}

// Position locates one atom in the document's total order.
type Position []pathElem

func comparePathElem(a, b pathElem) int {
	switch {
	case a.Digit < b.Digit:
		return -1
	case a.Digit > b.Digit:
		return 1
	case a.Site < b.Site:
		return -1
	case a.Site > b.Site:
		return 1
	default:
		return 0
	}
}

// comparePositions orders positions lexicographically, with a strict prefix
// sorting before its extensions.
func comparePositions(a, b Position) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := comparePathElem(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// positionBetween allocates a fresh position strictly between left and right
// for the given site. Nil bounds are open: nil left means document start, nil
// right means document end. Allocation is deterministic, so two sites racing
// for the same gap produce positions that differ only in their site element
// and order consistently everywhere.
func positionBetween(left, right Position, site string) Position {
	out := make(Position, 0, len(left)+1)
	leftBounded := left != nil
	rightBounded := right != nil

	for depth := 0; ; depth++ {
		le := pathElem{Digit: 0}
		if leftBounded && depth < len(left) {
			le = left[depth]
		} else {
			leftBounded = false
		}

		re := pathElem{Digit: digitBase}
		if rightBounded && depth < len(right) {
			re = right[depth]
		} else {
			rightBounded = false
		}

		if re.Digit > le.Digit+1 {
			mid := le.Digit + (re.Digit-le.Digit)/2
			return append(out, pathElem{Digit: mid, Site: site})
		}

		// No room at this depth: adopt the left element and descend. Once the
		// adopted element sits strictly below the right bound, deeper levels
		// are unconstrained on the right.
		out = append(out, le)
		if comparePathElem(le, re) != 0 {
			rightBounded = false
		}
	}
}
