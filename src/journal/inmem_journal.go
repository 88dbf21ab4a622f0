package journal

import "sync"

// InmemJournal keeps the last cacheSize to 2*cacheSize records in memory.
type InmemJournal struct {
	mu     sync.RWMutex
	window *window
}

// NewInmemJournal ...
func NewInmemJournal(cacheSize int) *InmemJournal {
	return &InmemJournal{
		window: newWindow("Record", cacheSize),
	}
}

// Append implements the Journal interface.
func (j *InmemJournal) Append(r Record) (Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	r.Index = j.window.lastIndex + 1
	if err := j.window.set(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Get implements the Journal interface.
func (j *InmemJournal) Get(index int64) (Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.window.get(index)
}

// Last implements the Journal interface. It never returns more than the
// window holds.
func (j *InmemJournal) Last(n int) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.window.last(n), nil
}

// Since returns the records with an index above skipIndex.
func (j *InmemJournal) Since(skipIndex int64) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.window.since(skipIndex)
}

// LastIndex implements the Journal interface.
func (j *InmemJournal) LastIndex() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.window.lastIndex
}

// Close implements the Journal interface.
func (j *InmemJournal) Close() error {
	return nil
}

// restore seeds an empty journal with records loaded from disk, so that the
// next Append continues after them.
func (j *InmemJournal) restore(records []Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, r := range records {
		if err := j.window.set(r); err != nil {
			return err
		}
	}
	return nil
}
