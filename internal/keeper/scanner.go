package keeper

import "callSpread/internal/model"

// Source is the read-only view of the settlement engine the scanner needs.
type Source interface {
	Count() uint64
	Position(id uint64) (model.Position, error)
	Now() uint64
}

// Scanner walks position ids from a persisted cursor, wrapping around at the
// end of the id space. Each pass inspects at most maxInspect ids, which bounds
// the cost of one scan regardless of how many positions exist.
type Scanner struct {
	src        Source
	maxInspect uint64
	cursor     uint64
}

func NewScanner(src Source, maxInspect uint64, cursor uint64) *Scanner {
	return &Scanner{src: src, maxInspect: maxInspect, cursor: cursor}
}

// Cursor is the id the next scan starts from.
func (s *Scanner) Cursor() uint64 {
	return s.cursor
}

// SetCursor moves the scan start.
func (s *Scanner) SetCursor(cursor uint64) {
	s.cursor = cursor
}

// Candidates returns a lazy sequence of eligible ids starting at the cursor.
// Consuming it does not move the scanner; call Commit for that.
func (s *Scanner) Candidates(maxCandidates int) *Sequence {
	count := s.src.Count()
	limit := s.maxInspect
	if limit == 0 || limit > count {
		limit = count
	}
	start := uint64(0)
	if count > 0 {
		start = s.cursor % count
	}
	return &Sequence{
		src:   s.src,
		now:   s.src.Now(),
		count: count,
		next:  start,
		left:  limit,
		max:   maxCandidates,
	}
}

// Scan collects up to maxCandidates eligible ids and advances the cursor past
// every id it inspected.
func (s *Scanner) Scan(maxCandidates int) []uint64 {
	seq := s.Candidates(maxCandidates)
	ids := seq.Collect()
	s.Commit(seq)
	return ids
}

// Peek collects eligible ids without moving the cursor.
func (s *Scanner) Peek(maxCandidates int) ([]uint64, uint64) {
	seq := s.Candidates(maxCandidates)
	ids := seq.Collect()
	return ids, seq.Resume()
}

// Commit moves the cursor to where seq stopped.
func (s *Scanner) Commit(seq *Sequence) {
	s.cursor = seq.Resume()
}

// Sequence is a finite iterator over eligible position ids.
type Sequence struct {
	src     Source
	now     uint64
	count   uint64
	next    uint64
	left    uint64
	max     int
	emitted int
}

// Next returns the next eligible id, or false when the sequence is exhausted.
func (q *Sequence) Next() (uint64, bool) {
	for q.left > 0 && q.emitted < q.max {
		id := q.next
		q.left--
		q.next++
		if q.next >= q.count {
			q.next = 0
		}

		pos, err := q.src.Position(id)
		if err != nil || !pos.ExercisableAt(q.now) {
			continue
		}
		q.emitted++
		return id, true
	}
	return 0, false
}

// Collect drains the sequence.
func (q *Sequence) Collect() []uint64 {
	var ids []uint64
	for {
		id, ok := q.Next()
		if !ok {
			return ids
		}
		ids = append(ids, id)
	}
}

// Resume is the cursor a later scan should start from.
func (q *Sequence) Resume() uint64 {
	return q.next
}
