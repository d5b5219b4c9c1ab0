package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

var (
	// ErrCorruptUpdate marks a payload that could not be decoded or fails
	// structural validation. The replica is left untouched when returned.
	ErrCorruptUpdate = errors.New("crdt: corrupt update payload")
)

// ID uniquely names one operation: the originating site plus that site's
// operation counter. Re-applying an ID the replica has already seen is a no-op,
// which is what makes updates idempotent.
type ID struct {
	Site  string `json:"s"`
	Clock uint64 `json:"c"`
}

type atom struct {
	id   ID
	pos  Position
	ch   rune
	dead bool
}

// Replica is a conflict-free replicated text document. Operations commute:
// any set of updates applied in any order, any number of times, yields the
// same text on every replica. Deletions tombstone atoms rather than removing
// them so late-arriving inserts still find their neighbours.
//
// Replica is not safe for concurrent use; the document session guards it.
type Replica struct {
	site    string
	clock   uint64
	atoms   []atom
	applied map[ID]struct{}
	deleted map[ID]struct{}
}

var _ interfaces.TextReplica = (*Replica)(nil)

// New creates an empty replica owned by site.
func New(site string) *Replica {
	return &Replica{
		site:    site,
		applied: make(map[ID]struct{}),
		deleted: make(map[ID]struct{}),
	}
}

// NewFromText creates a replica seeded with text attributed to site.
func NewFromText(site, text string) *Replica {
	r := New(site)
	if text != "" {
		r.insertRunes(0, []rune(text))
	}
	return r
}

// Factory builds replicas behind the interfaces.ReplicaFactory seam.
func Factory(site, text string) interfaces.TextReplica {
	return NewFromText(site, text)
}

// wire format

type wireInsert struct {
	ID  ID       `json:"id"`
	Pos Position `json:"pos"`
	Ch  string   `json:"ch"`
}

type wireOp struct {
	Ins *wireInsert `json:"ins,omitempty"`
	Del *ID         `json:"del,omitempty"`
}

type wireUpdate struct {
	Ops []wireOp `json:"ops"`
}

// String flattens the live atoms into the current text.
func (r *Replica) String() string {
	out := make([]rune, 0, len(r.atoms))
	for _, a := range r.atoms {
		if !a.dead {
			out = append(out, a.ch)
		}
	}
	return string(out)
}

// Len reports the visible length in runes.
func (r *Replica) Len() int {
	n := 0
	for _, a := range r.atoms {
		if !a.dead {
			n++
		}
	}
	return n
}

// ApplyLocalEdit diffs prior against next, trims the longest common prefix
// and suffix, and commits the minimal edit as local operations. It returns
// the encoded update for peers plus the per-operation deltas so callers can
// shift any cursors they track. A no-op edit returns a nil update.
func (r *Replica) ApplyLocalEdit(prior, next string) ([]byte, []interfaces.ReplicaDelta, error) {
	region := diffRegion([]rune(prior), []rune(next))
	if region.empty() {
		return nil, nil, nil
	}

	ops := make([]wireOp, 0, region.removed+len(region.inserted))
	deltas := make([]interfaces.ReplicaDelta, 0, cap(ops))

	for i := 0; i < region.removed; i++ {
		// Each removal happens at the same visible offset as the text closes up.
		op, ok := r.deleteLocal(region.offset)
		if !ok {
			return nil, nil, fmt.Errorf("crdt: local delete out of range at offset %d", region.offset)
		}
		ops = append(ops, op)
		deltas = append(deltas, interfaces.ReplicaDelta{Offset: region.offset, Length: -1})
	}

	for i, ch := range region.inserted {
		ops = append(ops, r.insertLocal(region.offset+i, ch))
		deltas = append(deltas, interfaces.ReplicaDelta{Offset: region.offset + i, Length: 1})
	}

	payload, err := json.Marshal(wireUpdate{Ops: ops})
	if err != nil {
		return nil, nil, fmt.Errorf("crdt: encode update: %w", err)
	}
	return payload, deltas, nil
}

// Export encodes the replica's full state, tombstones included, as one
// update. Merging an export converges any replica of the same document, which
// is all the open handshake needs.
func (r *Replica) Export() []byte {
	ops := make([]wireOp, 0, len(r.atoms)+len(r.deleted))
	for _, a := range r.atoms {
		ins := &wireInsert{ID: a.id, Pos: a.pos, Ch: string(a.ch)}
		ops = append(ops, wireOp{Ins: ins})
	}
	ids := make([]ID, 0, len(r.deleted))
	for id := range r.deleted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Site == ids[j].Site {
			return ids[i].Clock < ids[j].Clock
		}
		return ids[i].Site < ids[j].Site
	})
	for i := range ids {
		ops = append(ops, wireOp{Del: &ids[i]})
	}
	payload, _ := json.Marshal(wireUpdate{Ops: ops})
	return payload
}

// MergeUpdate applies a peer update. The whole payload is validated before
// any operation is applied so a corrupt update leaves the replica at its last
// known good state. Returned deltas describe the visible text changes in
// application order.
func (r *Replica) MergeUpdate(update []byte) ([]interfaces.ReplicaDelta, error) {
	var decoded wireUpdate
	if err := json.Unmarshal(update, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUpdate, err)
	}
	for _, op := range decoded.Ops {
		if err := validateOp(op); err != nil {
			return nil, err
		}
	}

	var deltas []interfaces.ReplicaDelta
	for _, op := range decoded.Ops {
		if op.Ins != nil {
			if d, changed := r.applyInsert(*op.Ins); changed {
				deltas = append(deltas, d)
			}
			continue
		}
		if d, changed := r.applyDelete(*op.Del); changed {
			deltas = append(deltas, d)
		}
	}
	return deltas, nil
}

func validateOp(op wireOp) error {
	switch {
	case op.Ins != nil && op.Del != nil:
		return fmt.Errorf("%w: op carries both insert and delete", ErrCorruptUpdate)
	case op.Ins != nil:
		ins := op.Ins
		if ins.ID.Site == "" || len(ins.Pos) == 0 || len([]rune(ins.Ch)) != 1 {
			return fmt.Errorf("%w: malformed insert", ErrCorruptUpdate)
		}
		return nil
	case op.Del != nil:
		if op.Del.Site == "" {
			return fmt.Errorf("%w: malformed delete", ErrCorruptUpdate)
		}
		return nil
	default:
		return fmt.Errorf("%w: empty op", ErrCorruptUpdate)
	}
}

// ShiftCursor adjusts a visible cursor offset for a sequence of deltas:
// offsets at or after an insertion move right; offsets past a deletion move
// left, and a cursor inside a deleted span clamps to the span start.
func ShiftCursor(offset int, deltas []interfaces.ReplicaDelta) int {
	for _, d := range deltas {
		if d.Length >= 0 {
			if offset >= d.Offset {
				offset += d.Length
			}
			continue
		}
		removed := -d.Length
		switch {
		case offset >= d.Offset+removed:
			offset -= removed
		case offset > d.Offset:
			offset = d.Offset
		}
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

// local operations

func (r *Replica) nextID() ID {
	r.clock++
	return ID{Site: r.site, Clock: r.clock}
}

func (r *Replica) insertRunes(visible int, runes []rune) []wireOp {
	ops := make([]wireOp, 0, len(runes))
	for i, ch := range runes {
		ops = append(ops, r.insertLocal(visible+i, ch))
	}
	return ops
}

func (r *Replica) insertLocal(visible int, ch rune) wireOp {
	full := r.fullIndexForInsert(visible)

	var left, right Position
	if full > 0 {
		left = r.atoms[full-1].pos
	}
	if full < len(r.atoms) {
		right = r.atoms[full].pos
	}

	a := atom{
		id:  r.nextID(),
		pos: positionBetween(left, right, r.site),
		ch:  ch,
	}
	r.atoms = append(r.atoms, atom{})
	copy(r.atoms[full+1:], r.atoms[full:])
	r.atoms[full] = a
	r.applied[a.id] = struct{}{}

	return wireOp{Ins: &wireInsert{ID: a.id, Pos: a.pos, Ch: string(a.ch)}}
}

func (r *Replica) deleteLocal(visible int) (wireOp, bool) {
	full := r.fullIndexOfVisible(visible)
	if full < 0 {
		return wireOp{}, false
	}
	a := &r.atoms[full]
	a.dead = true
	r.deleted[a.id] = struct{}{}
	id := a.id
	return wireOp{Del: &id}, true
}

// remote operations

func (r *Replica) applyInsert(ins wireInsert) (interfaces.ReplicaDelta, bool) {
	if _, seen := r.applied[ins.ID]; seen {
		return interfaces.ReplicaDelta{}, false
	}
	r.applied[ins.ID] = struct{}{}

	full := sort.Search(len(r.atoms), func(i int) bool {
		return comparePositions(r.atoms[i].pos, ins.Pos) >= 0
	})

	_, tombstoned := r.deleted[ins.ID]
	a := atom{
		id:   ins.ID,
		pos:  ins.Pos,
		ch:   []rune(ins.Ch)[0],
		dead: tombstoned,
	}
	r.atoms = append(r.atoms, atom{})
	copy(r.atoms[full+1:], r.atoms[full:])
	r.atoms[full] = a

	if a.dead {
		return interfaces.ReplicaDelta{}, false
	}
	return interfaces.ReplicaDelta{Offset: r.visibleIndexOfFull(full), Length: 1}, true
}

func (r *Replica) applyDelete(id ID) (interfaces.ReplicaDelta, bool) {
	if _, seen := r.deleted[id]; seen {
		return interfaces.ReplicaDelta{}, false
	}
	r.deleted[id] = struct{}{}

	for i := range r.atoms {
		if r.atoms[i].id != id {
			continue
		}
		if r.atoms[i].dead {
			return interfaces.ReplicaDelta{}, false
		}
		offset := r.visibleIndexOfFull(i)
		r.atoms[i].dead = true
		return interfaces.ReplicaDelta{Offset: offset, Length: -1}, true
	}
	// Delete arrived ahead of its insert; the tombstone entry above makes the
	// eventual insert land dead.
	return interfaces.ReplicaDelta{}, false
}

// index helpers

// fullIndexForInsert maps a visible insertion point to an index in the full
// atom slice. The new atom lands immediately after the visible predecessor,
// before any trailing tombstones.
func (r *Replica) fullIndexForInsert(visible int) int {
	if visible <= 0 {
		return 0
	}
	seen := 0
	for i, a := range r.atoms {
		if a.dead {
			continue
		}
		seen++
		if seen == visible {
			return i + 1
		}
	}
	return len(r.atoms)
}

func (r *Replica) fullIndexOfVisible(visible int) int {
	if visible < 0 {
		return -1
	}
	seen := 0
	for i, a := range r.atoms {
		if a.dead {
			continue
		}
		if seen == visible {
			return i
		}
		seen++
	}
	return -1
}

func (r *Replica) visibleIndexOfFull(full int) int {
	vis := 0
	for i := 0; i < full; i++ {
		if !r.atoms[i].dead {
			vis++
		}
	}
	return vis
}
