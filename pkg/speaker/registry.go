package speaker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the enrolled profiles for one encoder model and
// answers similarity queries against them.
//
// Reads (Search, List, Len) take a read lock; Enroll and Delete take
// the write lock and persist the updated set through the store before
// returning. A Registry is safe for concurrent use.
type Registry struct {
	modelID   string
	dim       int
	threshold float32
	store     Store
	logger    *slog.Logger

	mu       sync.RWMutex
	profiles map[string][]float32
}

// NewRegistry creates a registry for the given model and loads any
// persisted profiles. Profiles whose embedding length does not match
// dim are skipped with a warning rather than failing the load: a model
// swap must not brick the registry file.
func NewRegistry(modelID string, dim int, threshold float32, store Store, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		modelID:   modelID,
		dim:       dim,
		threshold: EffectiveThreshold(modelID, threshold),
		store:     store,
		logger:    logger,
		profiles:  make(map[string][]float32),
	}

	persisted, err := store.Load(modelID)
	if err != nil {
		return nil, fmt.Errorf("speaker: load profiles for %q: %w", modelID, err)
	}
	for _, p := range persisted {
		if len(p.Embedding) != dim {
			logger.Warn("skipping speaker profile with mismatched embedding dimension",
				"name", p.Name, "model", modelID,
				"got", len(p.Embedding), "want", dim)
			continue
		}
		r.profiles[p.Name] = p.Embedding
	}
	if len(r.profiles) > 0 {
		logger.Info("speaker profiles loaded",
			"model", modelID, "count", len(r.profiles))
	}
	return r, nil
}

// Threshold returns the acceptance threshold in effect.
func (r *Registry) Threshold() float32 { return r.threshold }

// Dimension returns the embedding length this registry expects.
func (r *Registry) Dimension() int { return r.dim }

// Search matches an embedding against every enrolled profile and
// returns the best verdict. When no profile reaches the threshold the
// verdict names Unknown with zero confidence. The probe embedding is
// always echoed back in the verdict.
func (r *Registry) Search(embedding []float32) Verdict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := float32(-1)
	bestName := ""
	for name, enrolled := range r.profiles {
		if sim := CosineSimilarity(embedding, enrolled); sim > best {
			best = sim
			bestName = name
		}
	}

	if bestName == "" || best < r.threshold {
		return Verdict{Name: Unknown, Confidence: 0, Embedding: embedding}
	}
	// Reported confidence is a fixed margin above the threshold, not a
	// probability. Raw similarity is too jumpy to show users.
	return Verdict{Name: bestName, Confidence: r.threshold + 0.05, Embedding: embedding}
}

// Enroll registers an embedding under name, replacing any previous
// profile with that name, and persists the updated set. The in-memory
// update survives a persistence failure; the error is still returned
// so the caller can surface it.
func (r *Registry) Enroll(name string, embedding []float32) error {
	if name == "" {
		return fmt.Errorf("speaker: enroll with empty name")
	}
	if len(embedding) != r.dim {
		return fmt.Errorf("speaker: enroll %q: embedding dimension %d, want %d",
			name, len(embedding), r.dim)
	}

	cp := make([]float32, len(embedding))
	copy(cp, embedding)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[name] = cp
	r.logger.Info("speaker enrolled", "name", name, "model", r.modelID)
	return r.persistLocked()
}

// Delete removes a profile and persists the updated set. It reports
// whether the profile existed.
func (r *Registry) Delete(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[name]; !ok {
		return false, nil
	}
	delete(r.profiles, name)
	r.logger.Info("speaker removed", "name", name, "model", r.modelID)
	return true, r.persistLocked()
}

// List returns the enrolled names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of enrolled profiles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

func (r *Registry) persistLocked() error {
	profiles := make([]Profile, 0, len(r.profiles))
	for name, emb := range r.profiles {
		profiles = append(profiles, Profile{Name: name, Embedding: emb})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })

	if err := r.store.Save(r.modelID, profiles); err != nil {
		r.logger.Error("persisting speaker profiles failed",
			"model", r.modelID, "error", err)
		return fmt.Errorf("speaker: persist profiles for %q: %w", r.modelID, err)
	}
	return nil
}
