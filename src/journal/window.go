package journal

import "strconv"

// window keeps the most recent records in memory. It holds between size and
// 2*size records once it filled up; older ones are rolled out in batches.
type window struct {
	name      string
	size      int
	lastIndex int64
	items     []Record
}

func newWindow(name string, size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{
		name:      name,
		size:      size,
		items:     make([]Record, 0, 2*size),
		lastIndex: -1,
	}
}

// oldest returns the index of the oldest cached record.
func (w *window) oldest() int64 {
	// assume there are no gaps between indexes
	return w.lastIndex - int64(len(w.items)) + 1
}

// since returns the cached records with an index above skipIndex.
func (w *window) since(skipIndex int64) ([]Record, error) {
	if skipIndex >= w.lastIndex {
		return nil, nil
	}

	oldest := w.oldest()
	if skipIndex+1 < oldest {
		return nil, NewErr(w.name, TooLate, strconv.FormatInt(skipIndex, 10))
	}

	start := skipIndex - oldest + 1

	return append([]Record(nil), w.items[start:]...), nil
}

// last returns at most n of the most recent records, oldest first.
func (w *window) last(n int) []Record {
	if n > len(w.items) {
		n = len(w.items)
	}
	if n <= 0 {
		return nil
	}
	return append([]Record(nil), w.items[len(w.items)-n:]...)
}

func (w *window) get(index int64) (Record, error) {
	oldest := w.oldest()
	if index < oldest {
		return Record{}, NewErr(w.name, TooLate, strconv.FormatInt(index, 10))
	}
	pos := index - oldest
	if pos >= int64(len(w.items)) {
		return Record{}, NewErr(w.name, KeyNotFound, strconv.FormatInt(index, 10))
	}
	return w.items[pos], nil
}

// set appends the record at index lastIndex+1. Records are never replaced.
func (w *window) set(r Record) error {
	// only allow index == lastIndex + 1 so we may assume there are no gaps
	// between items
	if w.lastIndex >= 0 && r.Index != w.lastIndex+1 {
		return NewErr(w.name, SkippedIndex, strconv.FormatInt(r.Index, 10))
	}

	if len(w.items) >= 2*w.size {
		w.roll()
	}
	w.items = append(w.items, r)
	w.lastIndex = r.Index
	return nil
}

func (w *window) roll() {
	items := make([]Record, 0, 2*w.size)
	items = append(items, w.items[w.size:]...)
	w.items = items
}
