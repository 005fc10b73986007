package features

import (
	"fmt"
	"sync/atomic"
	"testing"
)

func TestShard_Stable(t *testing.T) {
	for _, id := range []string{"a1", "acct-42", ""} {
		first := Shard(id, 8)
		if first < 0 || first >= 8 {
			t.Fatalf("Shard(%q, 8) = %d out of range", id, first)
		}
		if again := Shard(id, 8); again != first {
			t.Errorf("Shard(%q) not stable: %d then %d", id, first, again)
		}
	}
	if got := Shard("a1", 1); got != 0 {
		t.Errorf("Shard with one worker = %d, want 0", got)
	}
	if got := Shard("a1", 0); got != 0 {
		t.Errorf("Shard with zero workers = %d, want 0", got)
	}
}

func TestForEachSharded_VisitsEveryIDOnce(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = fmt.Sprintf("acct-%d", i)
	}

	for _, workers := range []int{0, 1, 4, 16} {
		results := make([]string, len(ids))
		var calls atomic.Int64
		ForEachSharded(ids, workers, func(i int, id string) {
			calls.Add(1)
			results[i] = id
		})

		if calls.Load() != int64(len(ids)) {
			t.Errorf("workers=%d: %d calls, want %d", workers, calls.Load(), len(ids))
		}
		for i, id := range ids {
			if results[i] != id {
				t.Errorf("workers=%d: results[%d] = %q, want %q", workers, i, results[i], id)
				break
			}
		}
	}
}
