/*
Package cache stores rendered reports between writes.

PURPOSE:
  Dashboards, allocation stats and year comparisons scan every allocation
  and expenditure of a year. The API caches their JSON responses and
  drops them all whenever any mutation succeeds.

GENERATIONS:
  Keys are stamped with a generation number. Invalidate bumps the
  generation, so every older entry becomes unreachable at once and simply
  expires. No key scan or delete is ever needed.

  Get returns the generation it looked under, and Set stores under that
  generation rather than the current one. A report built from data read
  before a write therefore lands under a generation nobody reads anymore.

IMPLEMENTATIONS:
  Redis:  shared across server instances (redis/go-redis/v9)
  Memory: per-process, used in tests and single-node setups
  Nop:    caching disabled

FAILURES:
  A cache never fails a request. Backend errors are logged and treated
  as a miss.
*/
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Generation identifies one period between two invalidations.
type Generation int64

// NoGeneration is returned when the generation could not be read. Set
// ignores it.
const NoGeneration Generation = -1

// ReportCache is the cache used by the HTTP layer.
type ReportCache interface {
	// Get looks key up in the current generation and returns that
	// generation, hit or miss.
	Get(ctx context.Context, key string) ([]byte, Generation, bool)
	// Set stores value under gen, normally the one returned by the Get
	// that missed.
	Set(ctx context.Context, gen Generation, key string, value []byte)
	Invalidate(ctx context.Context)
}

// =============================================================================
// NOP
// =============================================================================

type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, Generation, bool) { return nil, NoGeneration, false }
func (Nop) Set(context.Context, Generation, string, []byte)         {}
func (Nop) Invalidate(context.Context)                              {}

// =============================================================================
// MEMORY
// =============================================================================

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process ReportCache with a fixed TTL.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	generation Generation
	items      map[string]entry
	now        func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, items: make(map[string]entry), now: time.Now}
}

func memoryKey(gen Generation, key string) string {
	return strconv.FormatInt(int64(gen), 10) + ":" + key
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, Generation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey(m.generation, key)
	e, ok := m.items[k]
	if !ok {
		return nil, m.generation, false
	}
	if m.now().After(e.expiresAt) {
		delete(m.items, k)
		return nil, m.generation, false
	}
	return e.value, m.generation, true
}

// Set drops values built in an earlier generation.
func (m *Memory) Set(_ context.Context, gen Generation, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.items[memoryKey(gen, key)] = entry{value: value, expiresAt: m.now().Add(m.ttl)}
}

// Invalidate drops every entry.
func (m *Memory) Invalidate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.items = make(map[string]entry)
}

func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
