package storage

import "sync"

// MemoryKV is an in-process KV with the same capacity semantics as
// SQLiteKV. A capacity of zero or less means unbounded.
type MemoryKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	capacity int64
}

// NewMemoryKV creates an empty store bounded by capacity bytes.
func NewMemoryKV(capacity int64) *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte), capacity: capacity}
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 {
		total := entrySize(key, value)
		for k, v := range m.data {
			if k != key {
				total += entrySize(k, v)
			}
		}
		if total > m.capacity {
			return quotaError(total, m.capacity)
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}
