package features

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// Shard maps an entity id onto one of n workers.
func Shard(id string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(id)) % uint32(n))
}

// ForEachSharded calls fn for every id. With more than one worker the ids
// are partitioned by Shard and each partition runs on its own goroutine, in
// input order. fn receives the id's index so callers can write results into
// a preallocated slice without locking.
func ForEachSharded(ids []string, workers int, fn func(i int, id string)) {
	if workers <= 1 || len(ids) < 2 {
		for i, id := range ids {
			fn(i, id)
		}
		return
	}

	buckets := make([][]int, workers)
	for i, id := range ids {
		s := Shard(id, workers)
		buckets[s] = append(buckets[s], i)
	}

	var wg sync.WaitGroup
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		wg.Add(1)
		go func(idx []int) {
			defer wg.Done()
			for _, i := range idx {
				fn(i, ids[i])
			}
		}(bucket)
	}
	wg.Wait()
}
