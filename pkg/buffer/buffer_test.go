package buffer

import (
	"errors"
	"testing"
)

func TestSet_WithinCapacity(t *testing.T) {
	b := New(8)

	if err := b.SetString("update"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.String() != "update" {
		t.Errorf("contents = %q", b.String())
	}
	if b.Len() != 6 || b.Cap() != 8 {
		t.Errorf("len=%d cap=%d", b.Len(), b.Cap())
	}
}

func TestSet_SizeExceeded(t *testing.T) {
	b := New(4)

	if err := b.SetString("too long"); !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
	if !b.IsEmpty() {
		t.Error("failed Set must not modify contents")
	}
}

func TestSet_CopiesInput(t *testing.T) {
	b := New(4)
	src := []byte{1, 2, 3}
	if err := b.Set(src); err != nil {
		t.Fatal(err)
	}
	src[0] = 99
	if b.Bytes()[0] != 1 {
		t.Error("buffer aliases caller memory")
	}
}

func TestReset(t *testing.T) {
	b := New(4)
	b.SetString("abc")
	b.Reset()
	if !b.IsEmpty() || b.Cap() != 4 {
		t.Errorf("after reset: len=%d cap=%d", b.Len(), b.Cap())
	}
}
