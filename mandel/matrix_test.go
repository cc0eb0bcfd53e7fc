package mandel

import (
	"errors"
	"testing"
)

func TestMatrixExactlyOnce(t *testing.T) {
	m := NewMatrix(2, 3)
	if err := m.SetRow(1, []int{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetRow(1, []int{4, 5, 6}); !errors.Is(err, ErrProtocol) {
		t.Fatalf("second write: got %v, want ErrProtocol", err)
	}
	if m.At(1, 2) != 3 {
		t.Errorf("second write changed the row: %v", m.Row(1))
	}
	if m.Complete() {
		t.Error("matrix with one of two rows reported complete")
	}
	if missing := m.Missing(); !equalInts(missing, []int{0}) {
		t.Errorf("Missing() = %v, want [0]", missing)
	}
	if err := m.SetRow(0, []int{0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if !m.Complete() || m.Assembled() != 2 {
		t.Errorf("Complete() = %v, Assembled() = %d", m.Complete(), m.Assembled())
	}
}

func TestMatrixRejects(t *testing.T) {
	m := NewMatrix(2, 3)
	if err := m.SetRow(0, []int{1, 2}); !errors.Is(err, ErrProtocol) {
		t.Errorf("short row: got %v, want ErrProtocol", err)
	}
	if err := m.SetRow(2, []int{1, 2, 3}); err == nil {
		t.Error("row out of range accepted")
	}
	if m.Filled(0) {
		t.Error("rejected row marked filled")
	}
}

func TestMatrixCopies(t *testing.T) {
	m := NewMatrix(1, 2)
	buf := []int{7, 8}
	if err := m.SetRow(0, buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 0
	if m.At(0, 0) != 7 {
		t.Error("matrix aliases the caller's buffer")
	}
}
