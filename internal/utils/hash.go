package utils

import "hash/fnv"

// StableHash64 is FNV-1a over s, reinterpreted as a signed value so it fits a
// Postgres BIGINT column. It must never change: stored rows are keyed by it.
func StableHash64(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
