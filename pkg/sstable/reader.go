package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/KevoDB/prevterm/pkg/sstable/block"
	"github.com/KevoDB/prevterm/pkg/sstable/footer"
)

// IOManager handles positional reads from an open term file
type IOManager struct {
	path     string
	file     *os.File
	fileSize int64
	mu       sync.RWMutex
}

// NewIOManager opens path for reading
func NewIOManager(path string) (*IOManager, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &IOManager{path: path, file: file, fileSize: stat.Size()}, nil
}

// ReadAt reads exactly len(data) bytes at offset
func (io *IOManager) ReadAt(data []byte, offset int64) error {
	io.mu.RLock()
	defer io.mu.RUnlock()

	if io.file == nil {
		return ErrClosed
	}
	n, err := io.file.ReadAt(data, offset)
	if n == len(data) {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("%w: short read at %d", ErrCorruption, offset)
	}
	return err
}

// Size returns the size of the file
func (io *IOManager) Size() int64 {
	return io.fileSize
}

// Close closes the file
func (io *IOManager) Close() error {
	io.mu.Lock()
	defer io.mu.Unlock()

	if io.file == nil {
		return nil
	}
	err := io.file.Close()
	io.file = nil
	return err
}

// FieldInfo describes one field stored in a term file
type FieldInfo struct {
	Name  string
	Terms uint64
}

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// WithBlockCache shares a decoded-block cache between readers
func WithBlockCache(cache *BlockCache) ReaderOption {
	return func(r *Reader) {
		r.cache = cache
	}
}

// Reader reads a term file. It is safe for concurrent use; iterators are
// not.
type Reader struct {
	io     *IOManager
	ft     *footer.Footer
	codec  Codec
	index  *block.Reader
	fields []FieldInfo
	cache  *BlockCache
	fileID uint64
}

// OpenReader opens a term file and loads its index and meta blocks
func OpenReader(path string, opts ...ReaderOption) (*Reader, error) {
	io, err := NewIOManager(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{io: io}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.load(path); err != nil {
		io.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) load(path string) error {
	size := r.io.Size()
	if size < footer.FooterSize {
		return fmt.Errorf("%w: file too small to be a term file: %d bytes", ErrCorruption, size)
	}

	buf := make([]byte, footer.FooterSize)
	if err := r.io.ReadAt(buf, size-footer.FooterSize); err != nil {
		return fmt.Errorf("failed to read footer: %w", err)
	}
	ft, err := footer.Decode(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	r.ft = ft
	r.codec = Codec(ft.Codec)
	if _, err := decompressBlock(r.codec, nil); err != nil {
		return err
	}

	limit := uint64(size - footer.FooterSize)
	if ft.IndexOffset+uint64(ft.IndexSize) > limit || ft.MetaOffset+uint64(ft.MetaSize) > limit {
		return fmt.Errorf("%w: footer points past end of file", ErrCorruption)
	}

	if r.index, err = r.readRawBlock(ft.IndexOffset, ft.IndexSize); err != nil {
		return fmt.Errorf("failed to read index block: %w", err)
	}
	meta, err := r.readRawBlock(ft.MetaOffset, ft.MetaSize)
	if err != nil {
		return fmt.Errorf("failed to read meta block: %w", err)
	}
	if r.fields, err = decodeFields(meta); err != nil {
		return err
	}

	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], uint64(ft.Timestamp))
	r.fileID = xxhash.Sum64(append([]byte(path), id[:]...))
	return nil
}

func (r *Reader) readRawBlock(offset uint64, size uint32) (*block.Reader, error) {
	data := make([]byte, size)
	if err := r.io.ReadAt(data, int64(offset)); err != nil {
		return nil, err
	}
	br, err := block.NewReader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return br, nil
}

func decodeFields(meta *block.Reader) ([]FieldInfo, error) {
	var fields []FieldInfo
	it := meta.Iterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		n, err := DecodeFrequency(it.Value())
		if err != nil {
			return nil, err
		}
		fields = append(fields, FieldInfo{Name: string(it.Key()), Terms: n})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("%w: meta block: %v", ErrCorruption, err)
	}
	return fields, nil
}

// readBlock returns the decoded data block for h, consulting the cache
func (r *Reader) readBlock(h BlockHandle) (*block.Reader, error) {
	key := blockCacheKey(r.fileID, h.Offset)
	if br, ok := r.cache.get(key); ok {
		return br, nil
	}

	payload := make([]byte, h.Size)
	if err := r.io.ReadAt(payload, int64(h.Offset)); err != nil {
		return nil, fmt.Errorf("failed to read data block at offset %d: %w", h.Offset, err)
	}
	raw, err := decompressBlock(r.codec, payload)
	if err != nil {
		return nil, fmt.Errorf("data block at offset %d: %w", h.Offset, err)
	}
	br, err := block.NewReader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: data block at offset %d: %v", ErrCorruption, h.Offset, err)
	}

	r.cache.set(key, br)
	return br, nil
}

// Fields returns the fields stored in the file, sorted by name
func (r *Reader) Fields() []FieldInfo {
	return append([]FieldInfo(nil), r.fields...)
}

// HasField reports whether the file stores terms for field
func (r *Reader) HasField(field string) bool {
	i := sort.Search(len(r.fields), func(i int) bool { return r.fields[i].Name >= field })
	return i < len(r.fields) && r.fields[i].Name == field
}

// NumEntries returns the number of terms across all fields
func (r *Reader) NumEntries() uint64 {
	return r.ft.NumEntries
}

// Codec returns the compression codec of the data blocks
func (r *Reader) Codec() Codec {
	return r.codec
}

// NewIterator returns an unpositioned iterator over the whole file
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{reader: r, index: r.index.Iterator()}
}

// Close closes the underlying file
func (r *Reader) Close() error {
	return r.io.Close()
}
