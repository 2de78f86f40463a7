// Package store provides DocumentStore implementations.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	docs map[incentive.Collection]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[incentive.Collection]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, c incentive.Collection, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[c][id]
	if !ok {
		return nil, incentive.ErrDocumentNotFound
	}
	return clone(doc), nil
}

func (m *Memory) Set(_ context.Context, c incentive.Collection, id string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(c)[id] = clone(doc)
	return nil
}

func (m *Memory) Create(_ context.Context, c incentive.Collection, id string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collection(c)
	if _, ok := docs[id]; ok {
		return incentive.ErrDocumentExists
	}
	docs[id] = clone(doc)
	return nil
}

// Update holds the write lock across fn, so concurrent updates serialize.
func (m *Memory) Update(_ context.Context, c incentive.Collection, id string, fn incentive.UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.docs[c][id]
	if !ok {
		return incentive.ErrDocumentNotFound
	}
	next, err := fn(clone(current))
	if err != nil {
		return err
	}
	m.docs[c][id] = clone(next)
	return nil
}

func (m *Memory) Delete(_ context.Context, c incentive.Collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[c][id]; !ok {
		return incentive.ErrDocumentNotFound
	}
	delete(m.docs[c], id)
	return nil
}

// QueryByField compares JSON encodings, so "true" (string) never matches true (bool).
func (m *Memory) QueryByField(_ context.Context, c incentive.Collection, field string, value any) ([][]byte, error) {
	want, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result [][]byte
	for _, id := range m.sortedIDs(c) {
		doc := m.docs[c][id]
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(doc, &fields); err != nil {
			continue
		}
		got, ok := fields[field]
		if !ok {
			continue
		}
		if bytes.Equal(compact(got), want) {
			result = append(result, clone(doc))
		}
	}
	return result, nil
}

func (m *Memory) List(_ context.Context, c incentive.Collection) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.sortedIDs(c)
	result := make([][]byte, 0, len(ids))
	for _, id := range ids {
		result = append(result, clone(m.docs[c][id]))
	}
	return result, nil
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(c incentive.Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[c])
}

func (m *Memory) collection(c incentive.Collection) map[string][]byte {
	docs, ok := m.docs[c]
	if !ok {
		docs = make(map[string][]byte)
		m.docs[c] = docs
	}
	return docs
}

func (m *Memory) sortedIDs(c incentive.Collection) []string {
	ids := make([]string, 0, len(m.docs[c]))
	for id := range m.docs[c] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

var _ incentive.DocumentStore = (*Memory)(nil)
