package bitmap

import (
	"errors"
	"math/rand"
	"testing"
)

func TestInit_CapacityExceeded(t *testing.T) {
	b := New(64)

	if err := b.Init(64); err != nil {
		t.Fatalf("unexpected error at capacity: %v", err)
	}
	if err := b.Init(65); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := b.Init(0); err == nil {
		t.Error("expected error for zero block count")
	}
}

func TestMarkReceived_AnyOrderCompletes(t *testing.T) {
	for _, n := range []uint32{1, 2, 63, 64, 65, 500} {
		b := New(512)
		if err := b.Init(n); err != nil {
			t.Fatalf("init(%d): %v", n, err)
		}

		order := rand.Perm(int(n))
		for _, i := range order {
			first, err := b.MarkReceived(uint32(i))
			if err != nil {
				t.Fatalf("mark(%d): %v", i, err)
			}
			if !first {
				t.Fatalf("mark(%d) reported duplicate on first mark", i)
			}
		}

		if !b.IsComplete() {
			t.Errorf("n=%d: expected complete after marking all blocks", n)
		}
		if b.Received() != n {
			t.Errorf("n=%d: received = %d", n, b.Received())
		}
	}
}

func TestMarkReceived_Idempotent(t *testing.T) {
	b := New(16)
	if err := b.Init(8); err != nil {
		t.Fatal(err)
	}

	if first, _ := b.MarkReceived(3); !first {
		t.Fatal("first mark should report true")
	}
	first, err := b.MarkReceived(3)
	if err != nil {
		t.Fatalf("duplicate mark errored: %v", err)
	}
	if first {
		t.Error("duplicate mark should report false")
	}
	if b.Received() != 1 {
		t.Errorf("received count changed on duplicate: %d", b.Received())
	}
}

func TestMarkReceived_OutOfRange(t *testing.T) {
	b := New(16)
	if err := b.Init(4); err != nil {
		t.Fatal(err)
	}

	if _, err := b.MarkReceived(4); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for index 4, got %v", err)
	}
	if _, err := b.MarkReceived(100); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for index 100, got %v", err)
	}
	if b.Received() != 0 {
		t.Errorf("out-of-range mark changed received count: %d", b.Received())
	}
}

func TestNextMissing_AscendingAndExcludesReceived(t *testing.T) {
	b := New(128)
	if err := b.Init(100); err != nil {
		t.Fatal(err)
	}

	for _, idx := range []uint32{0, 5, 17, 63, 64, 99} {
		b.MarkReceived(idx)
	}

	missing := b.NextMissing(100)
	if len(missing) != 94 {
		t.Fatalf("expected 94 missing, got %d", len(missing))
	}
	seen := map[uint32]bool{0: true, 5: true, 17: true, 63: true, 64: true, 99: true}
	prev := int64(-1)
	for _, idx := range missing {
		if seen[idx] {
			t.Errorf("missing list contains received index %d", idx)
		}
		if int64(idx) <= prev {
			t.Errorf("missing list not ascending at %d", idx)
		}
		prev = int64(idx)
	}

	if got := b.NextMissing(3); len(got) != 3 {
		t.Errorf("maxCount not honored: got %d indices", len(got))
	}
	if got := b.NextMissing(0); got != nil {
		t.Errorf("maxCount 0 should return nothing, got %v", got)
	}
}

func TestScenario_ShortLastBlock(t *testing.T) {
	// blockSize 256, fileSize 1000 => 4 blocks [256, 256, 256, 232].
	const blockCount = 4
	b := New(8)
	if err := b.Init(blockCount); err != nil {
		t.Fatal(err)
	}

	for idx := uint32(0); idx < blockCount; idx++ {
		if _, err := b.MarkReceived(idx); err != nil {
			t.Fatalf("mark(%d): %v", idx, err)
		}
	}
	if !b.IsComplete() {
		t.Error("expected complete after marking blocks 0..3")
	}
}

func TestInit_ResetsCompleteness(t *testing.T) {
	b := New(8)
	b.Init(2)
	b.MarkReceived(0)
	b.MarkReceived(1)
	if !b.IsComplete() {
		t.Fatal("expected complete")
	}

	if err := b.Init(3); err != nil {
		t.Fatal(err)
	}
	if b.IsComplete() {
		t.Error("Init should clear completeness")
	}
	if b.Received() != 0 {
		t.Errorf("Init should clear received count, got %d", b.Received())
	}
}
