package util

import "testing"

// TestHistogramEmpty tests estimates on a histogram without samples
func TestHistogramEmpty(t *testing.T) {
	h := NewSizeHistogram()

	if got := h.AverageSize(); got != 0 {
		t.Errorf("expected average 0 for empty histogram, got %d", got)
	}
	if got := h.MedianEstimate(); got != 0 {
		t.Errorf("expected median 0 for empty histogram, got %d", got)
	}
}

// TestHistogramAverage tests the exact average across buckets
func TestHistogramAverage(t *testing.T) {
	h := NewSizeHistogram()
	h.AddSample(100)
	h.AddSample(200)
	h.AddSample(300)

	if got := h.AverageSize(); got != 200 {
		t.Errorf("expected average 200, got %d", got)
	}
}

// TestHistogramMedian tests that the median estimate lands in the bucket
// holding the bulk of the samples
func TestHistogramMedian(t *testing.T) {
	h := NewSizeHistogram()

	// most samples are around 500 bytes, bucket (256, 1024]
	for i := 0; i < 90; i++ {
		h.AddSample(500)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(1 << 20)
	}

	median := h.MedianEstimate()
	if median <= 256 || median > 1024 {
		t.Errorf("expected median estimate in (256, 1024], got %d", median)
	}
}

// TestHistogramOverflow tests samples above the last boundary
func TestHistogramOverflow(t *testing.T) {
	h := NewSizeHistogram()
	h.AddSample(8 << 30)
	h.AddSample(8 << 30)

	last := 4294967296
	if got := h.MedianEstimate(); got != last*2 {
		t.Errorf("expected overflow estimate %d, got %d", last*2, got)
	}
}
