package papaya

import (
	"math/bits"
	"runtime"
	"time"
)

const (
	// spinThreshold bounds the number of yields before a waiter backs off
	// to sleeping. Short waits stay on the CPU, long waits stop burning it.
	spinThreshold = 32
	yieldSleep    = 500 * time.Microsecond
)

// delay backs off a spinning waiter. Yields the processor for the first
// spinThreshold rounds, then sleeps. Sleeping with a non-zero duration
// works effectively as backoff under high concurrency.
func delay(spins *int) {
	*spins++
	if *spins < spinThreshold {
		runtime.Gosched()
	} else {
		time.Sleep(yieldSleep)
		*spins = 0
	}
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or
// equal to n. Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << (bits.UintSize - bits.LeadingZeros(uint(n-1)))
}

// calcParallelism splits items into chunks for cooperative processing.
//
// Returns the chunk size and the number of chunks. Small inputs stay in a
// single chunk to avoid coordination overhead.
func calcParallelism(items, threshold, cpus int) (chunkSize, chunks int) {
	if items <= threshold {
		return items, 1
	}
	chunks = min(items/threshold, cpus)
	chunkSize = (items + chunks - 1) / chunks
	return chunkSize, chunks
}
