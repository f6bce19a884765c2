package tree

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Memory is an in-process tree used when no remote transport is configured
// and as the fake in tests.
type Memory struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
	subs   map[int]*memorySub
	nextID int
}

type memorySub struct {
	store  *Memory
	id     int
	prefix string
	fn     WatchFunc
	once   sync.Once
}

// NewMemory creates an empty in-memory tree.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]json.RawMessage),
		subs:   make(map[int]*memorySub),
	}
}

func (m *Memory) Get(_ context.Context, path string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.values[path]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *Memory) Set(_ context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[path] = raw
	fns := m.matching(path)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(Event{Path: path, Value: raw})
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	obj := map[string]any{}
	if raw, ok := m.values[path]; ok {
		if err := json.Unmarshal(raw, &obj); err != nil {
			obj = map[string]any{}
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.values[path] = raw
	fns := m.matching(path)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(Event{Path: path, Value: raw})
	}
	return nil
}

func (m *Memory) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	_, existed := m.values[path]
	delete(m.values, path)
	fns := m.matching(path)
	m.mu.Unlock()
	if existed {
		for _, fn := range fns {
			fn(Event{Path: path, Removed: true})
		}
	}
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for p, raw := range m.values {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			out[p] = raw
		}
	}
	return out, nil
}

func (m *Memory) Watch(_ context.Context, path string, fn WatchFunc) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sub := &memorySub{store: m, id: m.nextID, prefix: path, fn: fn}
	m.subs[sub.id] = sub
	return sub, nil
}

func (m *Memory) Healthy(context.Context) bool { return true }

// matching is called with the lock held.
func (m *Memory) matching(path string) []WatchFunc {
	var fns []WatchFunc
	for _, s := range m.subs {
		if path == s.prefix || strings.HasPrefix(path, s.prefix+"/") {
			fns = append(fns, s.fn)
		}
	}
	return fns
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		s.store.mu.Unlock()
	})
	return nil
}
