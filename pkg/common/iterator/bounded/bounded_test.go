package bounded

import (
	"errors"
	"sort"
	"testing"
)

// sliceIterator is a simple in-memory iterator for testing
type sliceIterator struct {
	keys  []string
	index int
	err   error
}

func newSliceIterator(keys ...string) *sliceIterator {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return &sliceIterator{keys: sorted, index: -1}
}

func (s *sliceIterator) SeekToFirst() {
	s.index = 0
}

func (s *sliceIterator) Seek(target []byte) bool {
	s.index = sort.SearchStrings(s.keys, string(target))
	return s.Valid()
}

func (s *sliceIterator) Next() bool {
	if s.Valid() {
		s.index++
	}
	return s.Valid()
}

func (s *sliceIterator) Key() []byte {
	if !s.Valid() {
		return nil
	}
	return []byte(s.keys[s.index])
}

func (s *sliceIterator) Value() []byte {
	if !s.Valid() {
		return nil
	}
	return []byte("v:" + s.keys[s.index])
}

func (s *sliceIterator) Valid() bool  { return s.index >= 0 && s.index < len(s.keys) }
func (s *sliceIterator) Error() error { return s.err }

func collect(b *BoundedIterator) []string {
	var out []string
	for ; b.Valid(); b.Next() {
		out = append(out, string(b.Key()))
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBoundedIteratorRange(t *testing.T) {
	base := newSliceIterator("a", "b", "c", "d", "e")
	bi := NewBoundedIterator(base, []byte("b"), []byte("d"))

	bi.SeekToFirst()
	if got := collect(bi); !equal(got, []string{"b", "c"}) {
		t.Errorf("range = %v, want [b c]", got)
	}

	if !bi.Seek([]byte("a")) || string(bi.Key()) != "b" {
		t.Errorf("seek below start should clamp to start, got %q", bi.Key())
	}
	if bi.Seek([]byte("d")) {
		t.Errorf("seek at end bound should fail")
	}
	if bi.Valid() || bi.Key() != nil || bi.Value() != nil {
		t.Errorf("iterator outside bounds should be invalid")
	}
}

func TestPrefixIterator(t *testing.T) {
	base := newSliceIterator("body\x00zeta", "title\x00ant", "title\x00cat", "titles\x00x", "title\x01")
	bi := NewPrefixIterator(base, []byte("title\x00"))

	bi.SeekToFirst()
	if got := collect(bi); !equal(got, []string{"title\x00ant", "title\x00cat"}) {
		t.Errorf("prefix range = %q", got)
	}

	if !bi.Seek([]byte("title\x00b")) || string(bi.Key()) != "title\x00cat" {
		t.Errorf("seek inside prefix landed on %q", bi.Key())
	}
	if bi.Next() {
		t.Errorf("next past prefix end should report false, at %q", bi.Key())
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix, want []byte
	}{
		{[]byte("ab"), []byte("ac")},
		{[]byte("a\xff"), []byte("b")},
		{[]byte("\xff\xff"), nil},
		{[]byte{}, nil},
	}
	for _, tt := range tests {
		got := PrefixEnd(tt.prefix)
		if string(got) != string(tt.want) || (got == nil) != (tt.want == nil) {
			t.Errorf("PrefixEnd(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestBoundedIteratorPropagatesError(t *testing.T) {
	base := newSliceIterator("a")
	base.err = errors.New("disk gone")
	bi := NewBoundedIterator(base, nil, nil)
	if bi.Error() == nil {
		t.Errorf("expected wrapped iterator error")
	}
}
