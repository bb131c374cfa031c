package logging

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when the dispatcher enters a new layer or crosses a percentage bucket.
type ProgressSampler struct {
	bucketSize float64
	lastLayer  int
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 10%) or when the layer changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastLayer: -1, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A negative
// layer means the layer is unknown and only the percentage is considered.
func (s *ProgressSampler) ShouldLog(percent float64, layer int) bool {
	if s == nil {
		return true
	}
	emit := false
	if layer >= 0 && layer != s.lastLayer {
		s.lastLayer = layer
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state, e.g. when a workflow is retried.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastLayer = -1
	s.lastBucket = -1
}
