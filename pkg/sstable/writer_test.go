package sstable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevoDB/prevterm/pkg/sstable/block"
)

type fieldTerms struct {
	field string
	terms []string
}

func writeTermFile(t *testing.T, path string, data []fieldTerms, opts ...WriterOption) {
	t.Helper()
	w, err := NewWriter(path, opts...)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, ft := range data {
		for i, term := range ft.terms {
			if err := w.Add(ft.field, term, uint64(i+1)); err != nil {
				t.Fatalf("Add(%s, %q): %v", ft.field, term, err)
			}
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestWriterRejectsOutOfOrderTerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.terms")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Abort()

	if err := w.Add("title", "cat", 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("title", "ant", 1); !errors.Is(err, block.ErrUnordered) {
		t.Errorf("expected ErrUnordered for decreasing term, got %v", err)
	}
	if err := w.Add("body", "zebra", 1); !errors.Is(err, block.ErrUnordered) {
		t.Errorf("expected ErrUnordered for decreasing field, got %v", err)
	}
	if err := w.Add("bad\x00field", "x", 1); !errors.Is(err, ErrInvalidFieldName) {
		t.Errorf("expected ErrInvalidFieldName, got %v", err)
	}
	if err := w.Add("", "x", 1); !errors.Is(err, ErrInvalidFieldName) {
		t.Errorf("expected ErrInvalidFieldName for empty field, got %v", err)
	}
}

func TestWriterAbortRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aborted.terms")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Add("title", "ant", 1)
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty dir after Abort, found %d entries", len(entries))
	}
}

func TestWriterUnknownCodec(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "x.terms"), WithCodec(Codec(42)))
	if !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestWriterManyBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "many.terms")
	var terms []string
	for i := 0; i < 2000; i++ {
		terms = append(terms, fmt.Sprintf("term%05d", i))
	}
	writeTermFile(t, path, []fieldTerms{{"body", terms}}, WithBlockSize(256))

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if r.NumEntries() != 2000 {
		t.Errorf("NumEntries = %d, want 2000", r.NumEntries())
	}
	it := r.NewIterator()
	n := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		_, term, err := DecodeKey(it.Key())
		if err != nil {
			t.Fatalf("DecodeKey: %v", err)
		}
		if term != terms[n] {
			t.Fatalf("entry %d = %q, want %q", n, term, terms[n])
		}
		n++
	}
	if n != len(terms) {
		t.Errorf("iterated %d terms, want %d", n, len(terms))
	}
}
