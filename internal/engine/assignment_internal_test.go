package engine

import (
	"errors"
	"math"
	"testing"

	"bountyline/internal/domain"
)

func TestDeadlineAfterRefusesToWrap(t *testing.T) {
	if got, err := deadlineAfter(1704067200, 3600); err != nil || got != 1704070800 {
		t.Fatalf("deadline %d err %v", got, err)
	}
	cases := []struct {
		now    int64
		window uint64
	}{
		{1704067200, math.MaxInt64},
		{1704067200, math.MaxUint64},
		{math.MaxInt64 - 10, 11},
		{1704067200, 0},
	}
	for _, c := range cases {
		if _, err := deadlineAfter(c.now, c.window); !errors.Is(err, domain.ErrOverflow) {
			t.Fatalf("now %d window %d: expected overflow, got %v", c.now, c.window, err)
		}
	}
	if got, err := deadlineAfter(math.MaxInt64-10, 10); err != nil || got != math.MaxInt64 {
		t.Fatalf("edge deadline %d err %v", got, err)
	}
}
