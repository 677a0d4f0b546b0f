package classify

import (
	"encoding/binary"
	"math"
	"sort"
)

// Prediction is one scored class. Field order matches the serialized
// results document.
type Prediction struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
	Index int     `json:"index"`
}

// PCMToFloat32 converts 16-bit little-endian PCM to floats in [-1, 1) by
// dividing each sample by 32768. A trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Rank returns the topK highest-scoring classes, highest first.
//
// Only indices covered by both scores and labels are ranked. Equal scores
// keep ascending index order. Returns min(topK, ranked) predictions, and
// an empty (non-nil) slice when topK <= 0.
func Rank(scores []float32, labels []string, topK int) []Prediction {
	n := min(len(scores), len(labels))
	preds := make([]Prediction, n)
	for i := 0; i < n; i++ {
		preds[i] = Prediction{Label: labels[i], Score: scores[i], Index: i}
	}

	// NaN ranks below every real score.
	sort.SliceStable(preds, func(a, b int) bool {
		sa, sb := preds[a].Score, preds[b].Score
		if isNaN(sb) {
			return !isNaN(sa)
		}
		return sa > sb
	})

	if topK < 0 {
		topK = 0
	}
	return preds[:min(topK, n)]
}

func isNaN(f float32) bool {
	return math.IsNaN(float64(f))
}
