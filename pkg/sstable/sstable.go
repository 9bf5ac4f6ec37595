// Package sstable implements the immutable, sorted term file that backs a
// file-based term dictionary.
//
// Every entry key is field + 0x00 + term and every value is the term's
// document frequency as a uvarint. Keys of one field are therefore
// contiguous and ordered by term. A meta block lists the fields and their
// term counts.
package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultBlockSize is the target size for data blocks
	DefaultBlockSize = 16 * 1024
	// FieldSeparator separates the field name from the term in a key
	FieldSeparator = byte(0x00)
	// indexValueSize is offset (8) + size (4)
	indexValueSize = 12
)

var (
	// ErrCorruption indicates data corruption was detected
	ErrCorruption = errors.New("term file corruption detected")
	// ErrInvalidFieldName is returned for empty field names or names
	// containing the separator byte
	ErrInvalidFieldName = errors.New("invalid field name")
	// ErrClosed is returned when reading from a closed reader
	ErrClosed = errors.New("term file reader closed")
)

// BlockHandle locates a data block in the file
type BlockHandle struct {
	Offset uint64
	Size   uint32
}

func (h BlockHandle) encode() []byte {
	v := make([]byte, indexValueSize)
	binary.LittleEndian.PutUint64(v[:8], h.Offset)
	binary.LittleEndian.PutUint32(v[8:], h.Size)
	return v
}

func decodeBlockHandle(v []byte) (BlockHandle, error) {
	if len(v) < indexValueSize {
		return BlockHandle{}, fmt.Errorf("%w: index entry of %d bytes", ErrCorruption, len(v))
	}
	return BlockHandle{
		Offset: binary.LittleEndian.Uint64(v[:8]),
		Size:   binary.LittleEndian.Uint32(v[8:]),
	}, nil
}

// ValidateField checks that a field name can be stored in a term file
func ValidateField(field string) error {
	if field == "" || strings.IndexByte(field, FieldSeparator) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidFieldName, field)
	}
	return nil
}

// FieldPrefix returns the key prefix shared by every term of field
func FieldPrefix(field string) []byte {
	p := make([]byte, 0, len(field)+1)
	p = append(p, field...)
	return append(p, FieldSeparator)
}

// EncodeKey builds the stored key for a term of a field
func EncodeKey(field, term string) []byte {
	k := make([]byte, 0, len(field)+1+len(term))
	k = append(k, field...)
	k = append(k, FieldSeparator)
	return append(k, term...)
}

// DecodeKey splits a stored key into field and term
func DecodeKey(key []byte) (field, term string, err error) {
	i := bytes.IndexByte(key, FieldSeparator)
	if i <= 0 {
		return "", "", fmt.Errorf("%w: key without field separator", ErrCorruption)
	}
	return string(key[:i]), string(key[i+1:]), nil
}

// EncodeFrequency encodes a document frequency value
func EncodeFrequency(freq uint64) []byte {
	return binary.AppendUvarint(nil, freq)
}

// DecodeFrequency decodes a document frequency value
func DecodeFrequency(v []byte) (uint64, error) {
	f, n := binary.Uvarint(v)
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad frequency value", ErrCorruption)
	}
	return f, nil
}
