package shmap

import "sync"

// Store は共有マップの基本操作を定義するインターフェース
type Store[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V)
	Delete(key K)
	Keys() []K
	Len() int
}

// Ensure Map implements Store
var _ Store[string, []byte] = (*Map[string, []byte])(nil)

// Map は全スレッドから同一に見えるキー・バリューストア
type Map[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// New は空の Map を作成する
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		data: make(map[K]V),
	}
}

// Get はキーに対応する値を取得する。存在しなければ false
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	return value, exists
}

// Put はキーに値を無条件に設定する
func (m *Map[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
}

// Delete はキーを削除する
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
}

// Keys は全てのキーを返す
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]K, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// Len は格納されているエントリ数を返す
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
