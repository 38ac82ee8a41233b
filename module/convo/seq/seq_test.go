package seq

import (
	"context"
	"sort"
	"sync"
	"testing"
)

func TestMemAllocatorMonotone(t *testing.T) {
	a := NewMemAllocator()
	ctx := context.Background()
	for want := int64(1); want <= 5; want++ {
		got, err := a.Next(ctx, "s1")
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Fatalf("Next = %d, want %d", got, want)
		}
	}
}

func TestMemAllocatorStreamsIndependent(t *testing.T) {
	a := NewMemAllocator()
	ctx := context.Background()
	if _, err := a.Next(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Next(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	got, err := a.Next(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("fresh stream starts at %d, want 1", got)
	}
}

func TestMemAllocatorReconcile(t *testing.T) {
	a := NewMemAllocator()
	ctx := context.Background()
	got, err := a.ReconcileAndNext(ctx, "s1", 41)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("ReconcileAndNext = %d, want 42", got)
	}
	// 只升不降：低 floor 不回退
	got, err = a.ReconcileAndNext(ctx, "s1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 43 {
		t.Fatalf("ReconcileAndNext after low floor = %d, want 43", got)
	}
}

func TestMemAllocatorConcurrentContiguous(t *testing.T) {
	a := NewMemAllocator()
	ctx := context.Background()

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	var all []int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				n, err := a.Next(ctx, "hot")
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				local = append(local, n)
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(all) != workers*perWorker {
		t.Fatalf("allocated %d, want %d", len(all), workers*perWorker)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, n := range all {
		if n != int64(i+1) {
			t.Fatalf("sequence not contiguous at index %d: got %d", i, n)
		}
	}
}
