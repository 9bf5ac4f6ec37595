package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KevoDB/prevterm/pkg/sstable/block"
	"github.com/KevoDB/prevterm/pkg/sstable/footer"
)

// FileManager writes to a temporary file that is renamed into place on
// success, so readers never observe a partial term file.
type FileManager struct {
	path    string
	tmpPath string
	file    *os.File
}

// NewFileManager creates a new FileManager for the given file path
func NewFileManager(path string) (*FileManager, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &FileManager{path: path, tmpPath: tmpPath, file: file}, nil
}

// Write writes data to the file at the current position
func (fm *FileManager) Write(data []byte) (int, error) {
	return fm.file.Write(data)
}

// Close closes the file
func (fm *FileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// FinalizeFile syncs, closes and renames the file to its final path
func (fm *FileManager) FinalizeFile() error {
	if err := fm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Cleanup removes the temporary file if writing is aborted
func (fm *FileManager) Cleanup() error {
	fm.Close()
	return os.Remove(fm.tmpPath)
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithBlockSize sets the target size of data blocks
func WithBlockSize(size int) WriterOption {
	return func(w *Writer) {
		if size > 0 {
			w.blockSize = size
		}
	}
}

// WithRestartInterval sets how often a data block stores a full key
func WithRestartInterval(n int) WriterOption {
	return func(w *Writer) {
		w.restartInterval = n
	}
}

// WithCodec sets the compression codec for data blocks
func WithCodec(codec Codec) WriterOption {
	return func(w *Writer) {
		w.codec = codec
	}
}

// Writer writes a term file. Terms must be added in (field, term) order:
// fields ascending, and terms ascending within a field.
type Writer struct {
	fm              *FileManager
	blockSize       int
	restartInterval int
	codec           Codec

	data  *block.Builder
	index *block.Builder
	meta  *block.Builder

	offset       uint64
	entries      uint64
	field        string
	fieldEntries uint64
	lastKey      []byte
}

// NewWriter creates a term file writer for path
func NewWriter(path string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		blockSize:       DefaultBlockSize,
		restartInterval: block.DefaultRestartInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	if _, err := compressBlock(w.codec, nil); err != nil {
		return nil, err
	}

	fm, err := NewFileManager(path)
	if err != nil {
		return nil, err
	}
	w.fm = fm
	w.data = block.NewBuilder(w.restartInterval)
	w.index = block.NewBuilder(1)
	w.meta = block.NewBuilder(1)
	return w, nil
}

// Add appends a term of field with its document frequency
func (w *Writer) Add(field, term string, docFreq uint64) error {
	if err := ValidateField(field); err != nil {
		return err
	}

	key := EncodeKey(field, term)
	if w.entries > 0 && bytes.Compare(key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: %s/%q after previous key", block.ErrUnordered, field, term)
	}

	if field != w.field {
		if err := w.finishField(); err != nil {
			return err
		}
		w.field = field
	}

	if err := w.data.Add(key, EncodeFrequency(docFreq)); err != nil {
		return err
	}
	w.lastKey = append(w.lastKey[:0], key...)
	w.entries++
	w.fieldEntries++

	if w.data.EstimatedSize() >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) finishField() error {
	if w.field == "" {
		return nil
	}
	if err := w.meta.Add([]byte(w.field), EncodeFrequency(w.fieldEntries)); err != nil {
		return fmt.Errorf("failed to add field %q to meta block: %w", w.field, err)
	}
	w.fieldEntries = 0
	return nil
}

// flushBlock writes the pending data block and indexes it by its last key
func (w *Writer) flushBlock() error {
	if w.data.Empty() {
		return nil
	}

	raw := w.data.Finish()
	payload, err := compressBlock(w.codec, raw)
	if err != nil {
		return err
	}

	handle := BlockHandle{Offset: w.offset, Size: uint32(len(payload))}
	if err := w.write(payload); err != nil {
		return fmt.Errorf("failed to write data block: %w", err)
	}
	if err := w.index.Add(w.data.LastKey(), handle.encode()); err != nil {
		return fmt.Errorf("failed to add index entry: %w", err)
	}

	w.data.Reset()
	return nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.fm.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	w.offset += uint64(n)
	return nil
}

// writeBlock writes an uncompressed index or meta block
func (w *Writer) writeBlock(b *block.Builder) (uint64, uint32, error) {
	data := b.Finish()
	off := w.offset
	if err := w.write(data); err != nil {
		return 0, 0, err
	}
	return off, uint32(len(data)), nil
}

// Finish writes the index, meta block and footer and moves the file into
// place.
func (w *Writer) Finish() error {
	if err := w.flushBlock(); err != nil {
		w.fm.Cleanup()
		return err
	}
	if err := w.finishField(); err != nil {
		w.fm.Cleanup()
		return err
	}

	indexOffset, indexSize, err := w.writeBlock(w.index)
	if err != nil {
		w.fm.Cleanup()
		return fmt.Errorf("failed to write index block: %w", err)
	}
	metaOffset, metaSize, err := w.writeBlock(w.meta)
	if err != nil {
		w.fm.Cleanup()
		return fmt.Errorf("failed to write meta block: %w", err)
	}

	ft := footer.NewFooter(indexOffset, indexSize, metaOffset, metaSize, w.entries, uint8(w.codec))
	if err := w.write(ft.Encode()); err != nil {
		w.fm.Cleanup()
		return fmt.Errorf("failed to write footer: %w", err)
	}

	return w.fm.FinalizeFile()
}

// Abort cancels writing and removes the temporary file
func (w *Writer) Abort() error {
	return w.fm.Cleanup()
}

// Entries returns the number of terms added so far
func (w *Writer) Entries() uint64 {
	return w.entries
}
