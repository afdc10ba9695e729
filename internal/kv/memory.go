package kv

import (
	"bytes"
	"context"
	"sync"
)

// Memory is a map-backed Store, safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	v, ok := m.data[key.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	m.data[key.String()] = bytes.Clone(value)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.data, key.String())
	m.mu.Unlock()
	return nil
}

func (m *Memory) Count(_ context.Context, prefix Key) (int, error) {
	p := prefix.prefixBytes()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), p) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix Key) error {
	p := prefix.prefixBytes()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), p) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
