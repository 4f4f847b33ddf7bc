// This file implements the value-size histogram engines use to estimate
// their footprint for DatabaseInfo without a full scan. Sizes are counted
// into exponentially growing buckets, so a bounded sample covers everything
// from tiny rows to multi-gigabyte blobs with a fixed memory cost.
package util

import (
	"sort"
	"sync"
)

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram counts value sizes into exponential buckets and derives
// average and median estimates from the counts. The estimates feed the
// SizeBytes field of DatabaseInfo and are intentionally rough.
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int   // upper bound of each bucket, ascending
	buckets    []int64 // sample count per bucket, one extra for oversized values
	count      int64
	sum        int64
}

// NewSizeHistogram creates a histogram covering 16 bytes to 4 GB.
func NewSizeHistogram() *SizeHistogram {
	boundaries := []int{
		16, 64, 256, 1024, 4096,
		16384, 65536, 262144, 1048576,
		4194304, 16777216, 67108864,
		268435456, 1073741824, 4294967296,
	}
	return &SizeHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1),
	}
}

// AddSample counts one value size.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	// values above the last boundary land in the overflow bucket
	bucket := sort.SearchInts(h.boundaries, size)
	h.buckets[bucket]++
	h.count++
	h.sum += int64(size)
}

// AverageSize returns the mean sampled size, 0 without samples.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// MedianEstimate returns the midpoint of the bucket holding the median
// sample. The overflow bucket is estimated as twice the last boundary.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *SizeHistogram) MedianEstimate() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}

	target := h.count / 2
	cumulative := int64(0)

	for i, bucketCount := range h.buckets {
		cumulative += bucketCount
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return h.boundaries[0] / 2
		case i < len(h.boundaries):
			return (h.boundaries[i-1] + h.boundaries[i]) / 2
		default:
			return h.boundaries[len(h.boundaries)-1] * 2
		}
	}

	return int(h.sum / h.count)
}
