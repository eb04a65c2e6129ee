package task

import (
	"sort"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestNewIDIsMonotonic(t *testing.T) {
	prev := NewID()
	if prev == 0 {
		t.Fatal("expected IDs to start above zero")
	}

	for i := 0; i < 100; i++ {
		next := NewID()
		if next <= prev {
			t.Fatalf("expected ID %d to be greater than %d", next, prev)
		}
		prev = next
	}

	if got := LastID(); got != prev {
		t.Fatalf("expected LastID to return %d; got %d", prev, got)
	}
}

func TestNewIDConcurrent(t *testing.T) {
	const (
		generators = 8
		perWorker  = 1000
	)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		seen = make([]ID, 0, generators*perWorker)
	)

	for w := 0; w < generators; w++ {
		g.Go(func() error {
			local := make([]ID, perWorker)
			for i := range local {
				local[i] = NewID()
				if i > 0 && local[i] <= local[i-1] {
					t.Errorf("IDs generated by one worker are not increasing: %d after %d", local[i], local[i-1])
				}
			}

			mu.Lock()
			seen = append(seen, local...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Fatalf("ID %d was generated twice", seen[i])
		}
	}
}
