package seq

import (
	"context"
	"sync"
)

// MemAllocator 单进程发号器：每流一个计数器，互不阻塞。
// 计数器藏在锁后面，调用方拿不到裸的共享状态。
type MemAllocator struct {
	mu   sync.Mutex
	curr map[string]int64
}

func NewMemAllocator() *MemAllocator {
	return &MemAllocator{curr: make(map[string]int64)}
}

func (a *MemAllocator) Next(_ context.Context, streamID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.curr[streamID]++
	return a.curr[streamID], nil
}

// ReconcileAndNext 只升不降：矫正到 floor 后取新号。
func (a *MemAllocator) ReconcileAndNext(_ context.Context, streamID string, floor int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.curr[streamID] < floor {
		a.curr[streamID] = floor
	}
	a.curr[streamID]++
	return a.curr[streamID], nil
}
