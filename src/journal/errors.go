package journal

import "fmt"

// ErrType ...
type ErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound ErrType = iota
	// TooLate means the record was rolled out of the in-memory window.
	TooLate
	// SkippedIndex means an append would leave a gap.
	SkippedIndex
	// Empty ...
	Empty
)

// Err is the error returned by journal operations on a given key.
type Err struct {
	dataType string
	errType  ErrType
	key      string
}

// NewErr ...
func NewErr(dataType string, errType ErrType, key string) Err {
	return Err{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e Err) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case TooLate:
		m = "Too Late"
	case SkippedIndex:
		m = "Skipped Index"
	case Empty:
		m = "Empty"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// Is checks that an error is of type Err and that its code matches the
// provided code.
func Is(err error, t ErrType) bool {
	journalErr, ok := err.(Err)
	return ok && journalErr.errType == t
}
