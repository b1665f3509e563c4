package queue

import "encoding/binary"

// Key layout for queue data structures. See package docs for the shapes.

// MetaKey returns the metadata key for a queue.
// Format: q/{name}/m
func MetaKey(name string) []byte {
	return []byte("q/" + name + "/m")
}

// EntryPrefix returns the prefix under which all entries of a queue live.
// Format: q/{name}/e/
func EntryPrefix(name string) []byte {
	return []byte("q/" + name + "/e/")
}

// EntryKey returns the key for a single entry.
// Format: q/{name}/e/{seq_be8}
func EntryKey(name string, seq uint64) []byte {
	prefix := EntryPrefix(name)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// seqFromEntryKey extracts the sequence from an entry key.
func seqFromEntryKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
