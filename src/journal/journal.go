// Package journal records the packets a relay hub forwards, so that clients
// joining later can be sent the recent history.
//
// InmemJournal keeps a bounded window of records in memory. BadgerJournal
// persists every record in a badger database and keeps the same window in
// front of it as a cache; a reopened BadgerJournal continues the index where
// the previous run stopped.
package journal

// Journal is an append-only, indexed log of records. Indexes start at 0 and
// have no gaps.
type Journal interface {
	// Append assigns the next index to r, stores it and returns it.
	Append(r Record) (Record, error)

	// Get returns the record with the given index.
	Get(index int64) (Record, error)

	// Last returns at most n of the most recent records, oldest first.
	Last(n int) ([]Record, error)

	// LastIndex returns the index of the most recent record, or -1.
	LastIndex() int64

	Close() error
}
