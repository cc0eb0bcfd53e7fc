package mandel

import (
	"errors"
	"testing"
)

func TestPartitionTotality(t *testing.T) {
	for _, s := range []Strategy{Block{}, Cyclic{}} {
		for height := 1; height <= 40; height++ {
			for size := 1; size <= 12; size++ {
				part := NewPartition(s, height, size)
				seen := make([]int, height)
				for rank := 0; rank < size; rank++ {
					for _, row := range part.Rows(rank) {
						seen[row]++
					}
				}
				for row, n := range seen {
					if n != 1 {
						t.Fatalf("%s h=%d P=%d: row %d owned %d times", s.Name(), height, size, row, n)
					}
					if owner := part.Owner(row); owner < 0 || owner >= size {
						t.Fatalf("%s h=%d P=%d: row %d owner %d out of range", s.Name(), height, size, row, owner)
					}
				}
			}
		}
	}
}

func TestBlockRemainder(t *testing.T) {
	part := NewPartition(Block{}, 10, 3)
	want := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}
	for rank, rows := range want {
		got := part.Rows(rank)
		if !equalInts(got, rows) {
			t.Errorf("rank %d owns %v, want %v", rank, got, rows)
		}
	}
}

func TestBlockMoreRanksThanRows(t *testing.T) {
	part := NewPartition(Block{}, 3, 5)
	for rank := 3; rank < 5; rank++ {
		if rows := part.Rows(rank); len(rows) != 0 {
			t.Errorf("rank %d owns %v, want nothing", rank, rows)
		}
	}
}

func TestCyclic(t *testing.T) {
	part := NewPartition(Cyclic{}, 10, 3)
	want := [][]int{{0, 3, 6, 9}, {1, 4, 7}, {2, 5, 8}}
	for rank, rows := range want {
		if got := part.Rows(rank); !equalInts(got, rows) {
			t.Errorf("rank %d owns %v, want %v", rank, got, rows)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]string{"block": "block", "JOE": "block", "cyclic": "cyclic", " susie ": "cyclic"} {
		s, err := ParseStrategy(in)
		if err != nil {
			t.Fatalf("ParseStrategy(%q): %v", in, err)
		}
		if s.Name() != want {
			t.Errorf("ParseStrategy(%q) = %s, want %s", in, s.Name(), want)
		}
	}
	if _, err := ParseStrategy("diagonal"); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func equalInts(a, b []int) bool {
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
