// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/lixql/lixql/pkg/lixbackend"
)

// helperCacheCapacity is the soft bound named in §5: a process-wide
// REWRITTEN_HELPER_SQL_CACHE capped at 256 entries, overflow clears the
// cache wholesale rather than evicting individual entries.
const helperCacheCapacity = 256

type helperCacheKey struct {
	dialect lixbackend.Dialect
	sql     string
}

// HelperSQLCache is the process-wide mapping (dialect, source SQL) ->
// rewritten SQL described in §5. It contains no semantic state: losing it
// only costs a re-rewrite, never correctness.
type HelperSQLCache struct {
	mu      sync.Mutex
	entries map[helperCacheKey]string
}

var sharedHelperCache = NewHelperSQLCache()

// SharedHelperSQLCache returns the single process-wide cache instance.
func SharedHelperSQLCache() *HelperSQLCache { return sharedHelperCache }

func NewHelperSQLCache() *HelperSQLCache {
	return &HelperSQLCache{entries: make(map[helperCacheKey]string)}
}

func (c *HelperSQLCache) Get(dialect lixbackend.Dialect, sourceSQL string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[helperCacheKey{dialect, sourceSQL}]
	return v, ok
}

func (c *HelperSQLCache) Put(dialect lixbackend.Dialect, sourceSQL, rewrittenSQL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= helperCacheCapacity {
		c.entries = make(map[helperCacheKey]string)
	}
	c.entries[helperCacheKey{dialect, sourceSQL}] = rewrittenSQL
}

func (c *HelperSQLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
