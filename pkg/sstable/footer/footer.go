// Package footer encodes the fixed-size trailer of a term file.
package footer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 64
	// FooterMagic is a magic number to verify we're reading a valid footer
	FooterMagic = uint64(0xFACEFEEDFACEFEED)
	// CurrentVersion is the current file format version
	CurrentVersion = uint32(2)

	checksumOffset = FooterSize - 8
)

// ErrInvalidFooter is returned when the footer magic, version or checksum
// does not match.
var ErrInvalidFooter = errors.New("invalid term file footer")

// Footer locates the index and meta blocks of a term file
type Footer struct {
	Magic     uint64
	Version   uint32
	Timestamp int64
	// IndexOffset/IndexSize locate the block index
	IndexOffset uint64
	IndexSize   uint32
	// MetaOffset/MetaSize locate the field meta block
	MetaOffset uint64
	MetaSize   uint32
	// NumEntries counts terms across all fields
	NumEntries uint64
	// Codec is the compression codec applied to data blocks
	Codec uint8
	// Checksum of all footer fields excluding the checksum itself
	Checksum uint64
}

// NewFooter creates a footer stamped with the current time
func NewFooter(indexOffset uint64, indexSize uint32, metaOffset uint64, metaSize uint32,
	numEntries uint64, codec uint8) *Footer {

	return &Footer{
		Magic:       FooterMagic,
		Version:     CurrentVersion,
		Timestamp:   time.Now().UnixNano(),
		IndexOffset: indexOffset,
		IndexSize:   indexSize,
		MetaOffset:  metaOffset,
		MetaSize:    metaSize,
		NumEntries:  numEntries,
		Codec:       codec,
	}
}

// Encode serializes the footer to a byte slice
func (f *Footer) Encode() []byte {
	result := make([]byte, FooterSize)

	binary.LittleEndian.PutUint64(result[0:8], f.Magic)
	binary.LittleEndian.PutUint32(result[8:12], f.Version)
	binary.LittleEndian.PutUint64(result[12:20], uint64(f.Timestamp))
	binary.LittleEndian.PutUint64(result[20:28], f.IndexOffset)
	binary.LittleEndian.PutUint32(result[28:32], f.IndexSize)
	binary.LittleEndian.PutUint64(result[32:40], f.MetaOffset)
	binary.LittleEndian.PutUint32(result[40:44], f.MetaSize)
	binary.LittleEndian.PutUint64(result[44:52], f.NumEntries)
	result[52] = f.Codec
	// bytes 53..55 reserved

	f.Checksum = xxhash.Sum64(result[:checksumOffset])
	binary.LittleEndian.PutUint64(result[checksumOffset:], f.Checksum)

	return result
}

// WriteTo writes the footer to an io.Writer
func (f *Footer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Encode())
	return int64(n), err
}

// Decode parses and verifies a footer
func Decode(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrInvalidFooter, len(data), FooterSize)
	}
	data = data[len(data)-FooterSize:]

	f := &Footer{
		Magic:       binary.LittleEndian.Uint64(data[0:8]),
		Version:     binary.LittleEndian.Uint32(data[8:12]),
		Timestamp:   int64(binary.LittleEndian.Uint64(data[12:20])),
		IndexOffset: binary.LittleEndian.Uint64(data[20:28]),
		IndexSize:   binary.LittleEndian.Uint32(data[28:32]),
		MetaOffset:  binary.LittleEndian.Uint64(data[32:40]),
		MetaSize:    binary.LittleEndian.Uint32(data[40:44]),
		NumEntries:  binary.LittleEndian.Uint64(data[44:52]),
		Codec:       data[52],
		Checksum:    binary.LittleEndian.Uint64(data[checksumOffset:]),
	}

	if f.Magic != FooterMagic {
		return nil, fmt.Errorf("%w: magic %x, expected %x", ErrInvalidFooter, f.Magic, FooterMagic)
	}
	if f.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFooter, f.Version)
	}
	if sum := xxhash.Sum64(data[:checksumOffset]); f.Checksum != sum {
		return nil, fmt.Errorf("%w: checksum %x, calculated %x", ErrInvalidFooter, f.Checksum, sum)
	}

	return f, nil
}
