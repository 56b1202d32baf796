package store

import "sync"

// keyPool provides reusable byte slices for building database keys.
var keyPool = sync.Pool{
	New: func() any {
		// Prefix + "idx:" + index name + value + id fits comfortably.
		return make([]byte, 0, 256)
	},
}

// buildKey constructs a database key from prefix and suffix using a pooled buffer.
// Callers MUST call releaseKey when done with the key.
func buildKey(prefix, suffix string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	return buf
}

// buildIndexPrefix constructs the scan prefix for every entry of one index value:
// prefix + "idx:" + name + ":" + value + ":".
// Callers MUST call releaseKey when done with the key.
func buildIndexPrefix(prefix, indexName, value string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, prefix...)
	buf = append(buf, "idx:"...)
	buf = append(buf, indexName...)
	buf = append(buf, ':')
	buf = append(buf, value...)
	buf = append(buf, ':')
	return buf
}

// indexKey is a multi-valued index entry: the scan prefix followed by the
// record id, so many records can share one index value.
func indexKey(prefix, indexName, value, id string) []byte {
	key := make([]byte, 0, len(prefix)+len(indexName)+len(value)+len(id)+6)
	key = append(key, prefix...)
	key = append(key, "idx:"...)
	key = append(key, indexName...)
	key = append(key, ':')
	key = append(key, value...)
	key = append(key, ':')
	key = append(key, id...)
	return key
}

// releaseKey returns a key buffer to the pool for reuse.
func releaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0])
	}
}
