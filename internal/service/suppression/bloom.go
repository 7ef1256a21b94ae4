package suppression

import (
	"crypto/md5"
	"math"
)

// bloomFilter is a compact probabilistic membership filter over suppressed
// values. A negative answer is definitive; a positive answer is verified
// against the store. False negatives never happen, so no suppressed
// recipient is ever contacted because of the filter.
type bloomFilter struct {
	bits      []uint64
	size      uint64
	hashCount uint
	count     uint64
}

// newBloomFilter sizes the bit array for the expected element count at a
// 0.1% false positive rate.
func newBloomFilter(expected uint64) *bloomFilter {
	if expected == 0 {
		expected = 1
	}
	const fpRate = 0.001
	size := uint64(math.Ceil(-float64(expected) * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	if size < 64 {
		size = 64
	}
	hashCount := uint(math.Round(float64(size) / float64(expected) * math.Ln2))
	if hashCount < 1 {
		hashCount = 1
	}
	if hashCount > 16 {
		hashCount = 16
	}
	return &bloomFilter{
		bits:      make([]uint64, (size+63)/64),
		size:      size,
		hashCount: hashCount,
	}
}

// indices derives k bit positions from an MD5 digest via double hashing.
func (b *bloomFilter) indices(value string) []uint64 {
	sum := md5.Sum([]byte(value))
	h1 := uint64(sum[0]) | uint64(sum[1])<<8 | uint64(sum[2])<<16 | uint64(sum[3])<<24 |
		uint64(sum[4])<<32 | uint64(sum[5])<<40 | uint64(sum[6])<<48 | uint64(sum[7])<<56
	h2 := uint64(sum[8]) | uint64(sum[9])<<8 | uint64(sum[10])<<16 | uint64(sum[11])<<24 |
		uint64(sum[12])<<32 | uint64(sum[13])<<40 | uint64(sum[14])<<48 | uint64(sum[15])<<56
	if h2 == 0 {
		h2 = 0x9e3779b97f4a7c15
	}
	out := make([]uint64, b.hashCount)
	for i := uint(0); i < b.hashCount; i++ {
		out[i] = (h1 + uint64(i)*h2) % b.size
	}
	return out
}

// Add inserts a value into the filter.
func (b *bloomFilter) Add(value string) {
	for _, idx := range b.indices(value) {
		b.bits[idx/64] |= 1 << (idx % 64)
	}
	b.count++
}

// MayContain reports whether the value might be in the set. False means
// definitely not.
func (b *bloomFilter) MayContain(value string) bool {
	for _, idx := range b.indices(value) {
		if b.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}
