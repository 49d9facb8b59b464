package experiment

import (
	"hash/fnv"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// bucket maps a key to [0, 100) using FNV-1a. The hash is stable and
// non-cryptographic: the same key always lands in the same bucket, which is
// what makes assignment deterministic for the life of an experiment.
func bucket(key string) float64 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return float64(h.Sum32()%10000) / 100
}

// eligible reports whether the user falls inside the experiment's target
// percentage of traffic.
func eligible(userID, experimentID string, percentage int) bool {
	return bucket(userID+experimentID) < float64(percentage)
}

// pickVariant draws a bucket from a salted hash and walks the cumulative
// traffic allocations. The first variant whose cumulative share exceeds the
// draw wins; rounding edge cases fall back to the first variant.
func pickVariant(userID, experimentID string, variants []experiment.Variant) experiment.Variant {
	draw := bucket(userID + experimentID + "variant")

	cumulative := 0.0
	for _, v := range variants {
		cumulative += float64(v.TrafficAllocation)
		if draw < cumulative {
			return v
		}
	}
	return variants[0]
}
