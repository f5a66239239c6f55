// 64-bit key hashing for the in-memory membership filter, plus the
// linear-hashing bucket rule (bucketFor), which no store path calls.
//
// Three algorithms are supported, selectable via Config.HashAlgorithm
// and sticky per database (recorded in the MANIFEST). The hash never
// touches the record format — keys are stored verbatim — so the choice
// only affects in-memory structures.
package quire

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Hash algorithm constants.
const (
	AlgXXHash3 = 1 // Default, fastest
	AlgFNV1a   = 2 // No external dependencies
	AlgBlake2b = 3 // Best distribution
)

// keyHash returns a 64-bit digest of key under alg, or 0 for an
// unknown algorithm.
func keyHash(key []byte, alg int) uint64 {
	switch alg {
	case AlgXXHash3:
		return xxh3.Hash(key)
	case AlgFNV1a:
		h := fnv.New64a()
		h.Write(key)
		return h.Sum64()
	case AlgBlake2b:
		h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
		h.Write(key)
		return binary.BigEndian.Uint64(h.Sum(nil))
	default:
		return 0
	}
}

// bucketFor maps a hash to its linear-hashing bucket. With 2^level
// base buckets of which split have already been divided, hashes landing
// below the split point use the next level's modulus.
func bucketFor(hash, level, split uint64) uint64 {
	bucket := hash % (1 << level)
	if bucket < split {
		return hash % (1 << (level + 1))
	}
	return bucket
}
