// Package speaker maintains voiceprint profiles and matches embeddings
// against them.
//
// A Registry holds the enrolled profiles for one encoder model.
// Searches run lock-free against a read snapshot; enrollment takes the
// write lock and persists through a pluggable Store.
package speaker

import "math"

// Profile is one enrolled speaker: a name and the voiceprint embedding
// captured at enrollment time.
type Profile struct {
	Name      string    `json:"name" msgpack:"name"`
	Embedding []float32 `json:"embedding" msgpack:"embedding"`
}

// Verdict is the outcome of matching one embedding against a registry.
// Embedding is always populated so callers can enroll or debug from an
// unmatched utterance.
type Verdict struct {
	Name       string
	Confidence float32
	Embedding  []float32
}

// Unknown is the verdict name when no profile clears the threshold.
const Unknown = "unknown"

// DefaultThreshold is the generic acceptance threshold for cosine
// similarity between a probe embedding and an enrolled profile.
const DefaultThreshold = 0.7

// EffectiveThreshold adjusts the configured threshold for models whose
// embedding geometry needs a different operating point. The override
// applies only when the caller left the generic default in place.
func EffectiveThreshold(modelID string, configured float32) float32 {
	if modelID == "nemo-speakernet" && configured == DefaultThreshold {
		return 0.6
	}
	return configured
}

// CosineSimilarity computes the cosine of the angle between two
// vectors, in [-1, 1]. Mismatched dimensions or a zero-norm vector
// yield -1, the worst possible score.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return float32(sim)
}
