package cache

import (
	"errors"
	"sync"
	"time"
)

// ErrMiss возвращается при отсутствии ключа в кэше.
var ErrMiss = errors.New("cache: key not found")

// Memory — кэш в памяти процесса. Используется, когда Redis не настроен:
// контракт тот же, но состояние не переживает рестарт и не делится между
// экземплярами.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory создаёт кэш в памяти.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Once выполняет функцию, если ключ ещё не задан.
func (c *Memory) Once(key string, ttl time.Duration, fn func() error) error {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return nil
	}
	c.entries[key] = memoryEntry{value: []byte("1"), expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Set задаёт значение.
func (c *Memory) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	c.entries[key] = memoryEntry{value: buf, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get возвращает значение.
func (c *Memory) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, ErrMiss
	}
	return entry.value, nil
}
