package papaya

import (
	"hash/maphash"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// hashPrime is the 64-bit Golden Ratio mixing constant.
const hashPrime = 0x9E3779B185EBCA87

// mix64 finalizes a hash value, spreading entropy into the low bits used
// for bucket indexing.
func mix64(h uint64) uint64 {
	h ^= h >> 33
	h *= hashPrime
	h ^= h >> 29
	return h
}

// defaultHasher selects a hash function for the key type. Integer keys are
// mixed directly, string keys go through xxhash, and every other comparable
// type falls back to the runtime's maphash.
func defaultHasher[K comparable]() func(key K, seed uint64) uint64 {
	switch any(*new(K)).(type) {
	case string:
		return func(key K, seed uint64) uint64 {
			s := *(*string)(unsafe.Pointer(&key))
			return mix64(xxhash.Sum64String(s) ^ seed)
		}
	case int:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*int)(unsafe.Pointer(&key))) ^ seed)
		}
	case uint:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*uint)(unsafe.Pointer(&key))) ^ seed)
		}
	case uintptr:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*uintptr)(unsafe.Pointer(&key))) ^ seed)
		}
	case int64:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*int64)(unsafe.Pointer(&key))) ^ seed)
		}
	case uint64:
		return func(key K, seed uint64) uint64 {
			return mix64(*(*uint64)(unsafe.Pointer(&key)) ^ seed)
		}
	case int32:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*int32)(unsafe.Pointer(&key))) ^ seed)
		}
	case uint32:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*uint32)(unsafe.Pointer(&key))) ^ seed)
		}
	case int16:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*int16)(unsafe.Pointer(&key))) ^ seed)
		}
	case uint16:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*uint16)(unsafe.Pointer(&key))) ^ seed)
		}
	case int8:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*int8)(unsafe.Pointer(&key))) ^ seed)
		}
	case uint8:
		return func(key K, seed uint64) uint64 {
			return mix64(uint64(*(*uint8)(unsafe.Pointer(&key))) ^ seed)
		}
	default:
		ms := maphash.MakeSeed()
		return func(key K, seed uint64) uint64 {
			return mix64(maphash.Comparable(ms, key) ^ seed)
		}
	}
}
