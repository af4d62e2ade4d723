package dbtype

import "hash/fnv"

// StableHash implements the "Table id" external interface of spec.md §6:
// tableId = stableHash(absolutePath). FNV-1a is non-cryptographic but
// deterministic across runs and, in practice, injective over the distinct
// absolute paths a catalog hands it — the one property the buffer pool
// depends on to keep pages from different tables apart.
func StableHash(absPath string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(absPath))
	return int64(h.Sum64())
}
