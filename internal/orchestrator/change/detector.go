// Package change decides whether a processed image differs from the last one
// the pipeline actually used for the same source.
package change

import (
	"log/slog"
	"sync"

	"github.com/corona10/goimagehash"

	"github.com/gridscout/platform/internal/orchestrator/preprocess"
)

type seen struct {
	digest [32]byte
	phash  *goimagehash.ImageHash
}

// Detector keeps the committed digest per source. With maxDistance > 0 it
// also treats images within that perception-hash distance as unchanged.
type Detector struct {
	maxDistance int

	mu   sync.Mutex
	last map[string]seen
}

// NewDetector creates a detector; maxDistance 0 compares digests only.
func NewDetector(maxDistance int) *Detector {
	return &Detector{maxDistance: maxDistance, last: make(map[string]seen)}
}

// HasChanged compares img against the committed state for key. It has no
// side effects; call Commit once the image has been used.
func (d *Detector) HasChanged(key string, img *preprocess.Image) bool {
	d.mu.Lock()
	prev, ok := d.last[key]
	d.mu.Unlock()

	if !ok {
		return true
	}
	if prev.digest == img.Digest {
		return false
	}
	if d.maxDistance <= 0 || prev.phash == nil {
		return true
	}
	hash, err := goimagehash.PerceptionHash(img.Gray)
	if err != nil {
		return true
	}
	dist, err := prev.phash.Distance(hash)
	if err != nil {
		return true
	}
	if dist <= d.maxDistance {
		slog.Debug("image within perceptual distance", "source", key, "distance", dist)
		return false
	}
	return true
}

// Commit records img as the last used image for key.
func (d *Detector) Commit(key string, img *preprocess.Image) {
	s := seen{digest: img.Digest}
	if d.maxDistance > 0 {
		if hash, err := goimagehash.PerceptionHash(img.Gray); err == nil {
			s.phash = hash
		}
	}
	d.mu.Lock()
	d.last[key] = s
	d.mu.Unlock()
}

// Forget drops state for a removed source.
func (d *Detector) Forget(key string) {
	d.mu.Lock()
	delete(d.last, key)
	d.mu.Unlock()
}
