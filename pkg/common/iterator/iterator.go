// Package iterator defines the forward-only iterator contract shared by the
// storage code underneath term dictionaries.
package iterator

// Iterator walks key/value pairs in ascending key order. Keys and values
// returned by Key and Value are only valid until the next positioning call.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// Seek positions the iterator at the first key >= target
	Seek(target []byte) bool

	// Next advances the iterator to the next key
	Next() bool

	Key() []byte
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool

	// Error returns the first I/O or corruption error met while iterating.
	// An iterator that hit an error is no longer valid.
	Error() error
}
