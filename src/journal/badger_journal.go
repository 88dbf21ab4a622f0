package journal

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const recordPrefix = "record"

// BadgerJournal persists records in badger and serves recent ones from an
// InmemJournal.
type BadgerJournal struct {
	mu     sync.Mutex
	cache  *InmemJournal
	db     *badger.DB
	path   string
	logger *logrus.Entry
}

// NewBadgerJournal opens, or creates, the database in path. The most recent
// cacheSize records are loaded back into memory.
func NewBadgerJournal(path string, cacheSize int, logger *logrus.Entry) (*BadgerJournal, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger database in %s", path)
	}

	j := &BadgerJournal{
		cache:  NewInmemJournal(cacheSize),
		db:     handle,
		path:   path,
		logger: logger.WithField("journal", path),
	}

	recent, err := j.dbLast(j.cache.window.size)
	if err != nil {
		handle.Close()
		return nil, errors.Wrap(err, "loading recent records")
	}
	if err := j.cache.restore(recent); err != nil {
		handle.Close()
		return nil, errors.Wrap(err, "loading recent records")
	}

	j.logger.WithField("last_index", j.cache.LastIndex()).Debug("Journal opened")

	return j, nil
}

// Append implements the Journal interface. The record is written to the
// database before it is cached.
func (j *BadgerJournal) Append(r Record) (Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	r.Index = j.cache.LastIndex() + 1

	if err := j.dbSet(r); err != nil {
		return Record{}, err
	}

	return j.cache.Append(r)
}

// Get implements the Journal interface, falling back to the database for
// records that left the cache.
func (j *BadgerJournal) Get(index int64) (Record, error) {
	r, err := j.cache.Get(index)
	if err != nil && Is(err, TooLate) {
		r, err = j.dbGet(index)
	}
	return r, mapError(err, strconv.FormatInt(index, 10))
}

// Last implements the Journal interface. Requests larger than the cache are
// served from the database.
func (j *BadgerJournal) Last(n int) ([]Record, error) {
	records, err := j.cache.Last(n)
	if err != nil || len(records) == n || int64(len(records)) == j.cache.LastIndex()+1 {
		return records, err
	}
	return j.dbLast(n)
}

// LastIndex implements the Journal interface.
func (j *BadgerJournal) LastIndex() int64 {
	return j.cache.LastIndex()
}

// Close implements the Journal interface.
func (j *BadgerJournal) Close() error {
	if err := j.cache.Close(); err != nil {
		return err
	}
	return j.db.Close()
}

// StorePath returns the directory of the database.
func (j *BadgerJournal) StorePath() string {
	return j.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func recordKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", recordPrefix, index))
}

func (j *BadgerJournal) dbSet(r Record) error {
	val, err := r.Marshal()
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r.Index), val)
	})
}

func (j *BadgerJournal) dbGet(index int64) (Record, error) {
	var data []byte

	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(index))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return Record{}, err
	}

	var r Record
	if err := r.Unmarshal(data); err != nil {
		return Record{}, errors.Wrap(err, "decoding record")
	}
	return r, nil
}

// dbLast walks the record keys backwards from the highest one.
func (j *BadgerJournal) dbLast(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	var records []Record
	prefix := []byte(recordPrefix + "_")

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// "~" sorts after every digit
		for it.Seek([]byte(recordPrefix + "_~")); it.ValidForPrefix(prefix) && len(records) < n; it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r Record
			if err := r.Unmarshal(data); err != nil {
				return errors.Wrap(err, "decoding record")
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// oldest first
	for i, k := 0, len(records)-1; i < k; i, k = i+1, k-1 {
		records[i], records[k] = records[k], records[i]
	}
	return records, nil
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, key string) error {
	if err != nil && isDBKeyNotFound(err) {
		return NewErr("Record", KeyNotFound, key)
	}
	return err
}
