package export

import "fmt"

// SeqRange is an inclusive range of event sequence numbers.
type SeqRange struct {
	From uint64
	To   uint64
}

// Len is the number of events in the range.
func (r SeqRange) Len() int {
	return int(r.To - r.From + 1)
}

// SplitRange splits [from, to] into consecutive ranges of at most batchSize.
func SplitRange(from, to, batchSize uint64) ([]SeqRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to must be >= from")
	}

	ranges := make([]SeqRange, 0, (to-from)/batchSize+1)
	start := from
	for {
		end := to
		if to-start+1 > batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, SeqRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}
