package member

import (
	"context"
	"sort"
	"sync"
)

// Registry 会话成员表。写命令校验、未读扇出都依赖它。
type Registry interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	Members(ctx context.Context, conversationID string) ([]string, error)
	Join(ctx context.Context, conversationID, userID string) error
	Leave(ctx context.Context, conversationID, userID string) error
	// Conversations 列出用户所在的全部会话（inbox 重建用）。
	Conversations(ctx context.Context, userID string) ([]string, error)
}

type MemRegistry struct {
	mu    sync.RWMutex
	convs map[string]map[string]struct{} // conv -> users
	users map[string]map[string]struct{} // user -> convs
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		convs: make(map[string]map[string]struct{}),
		users: make(map[string]map[string]struct{}),
	}
}

func (r *MemRegistry) IsMember(_ context.Context, conv, user string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.convs[conv]
	if !ok {
		return false, nil
	}
	_, ok = m[user]
	return ok, nil
}

func (r *MemRegistry) Members(_ context.Context, conv string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.convs[conv]
	out := make([]string, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemRegistry) Join(_ context.Context, conv, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.convs[conv] == nil {
		r.convs[conv] = make(map[string]struct{})
	}
	if r.users[user] == nil {
		r.users[user] = make(map[string]struct{})
	}
	r.convs[conv][user] = struct{}{}
	r.users[user][conv] = struct{}{}
	return nil
}

func (r *MemRegistry) Leave(_ context.Context, conv, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs[conv], user)
	delete(r.users[user], conv)
	return nil
}

func (r *MemRegistry) Conversations(_ context.Context, user string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.users[user]
	out := make([]string, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}
