package core

// seenCache is a bounded set of recently-observed block hashes, used to drop
// a gossiped block the node has already validated or mined itself instead of
// re-running full validation on every duplicate broadcast relay.
import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const seenCacheSize = 4096

type seenCache struct {
	cache *lru.Cache[Hash, struct{}]
}

func newSeenCache() *seenCache {
	c, err := lru.New[Hash, struct{}](seenCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which seenCacheSize
		// never is.
		panic("core: seen cache: " + err.Error())
	}
	return &seenCache{cache: c}
}

// seen reports whether h has already been recorded, recording it if not.
// The two are combined into one call so callers can't race between a check
// and a later add.
func (s *seenCache) seen(h Hash) bool {
	found, _ := s.cache.ContainsOrAdd(h, struct{}{})
	return found
}
