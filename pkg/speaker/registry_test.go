package speaker

import (
	"errors"
	"math"
	"testing"
)

func newTestRegistry(t *testing.T, store Store) *Registry {
	t.Helper()
	r, err := NewRegistry("test-model", 3, DefaultThreshold, store, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestSearchEmptyRegistry(t *testing.T) {
	r := newTestRegistry(t, NewMemoryStore())

	probe := []float32{1, 0, 0}
	v := r.Search(probe)
	if v.Name != Unknown {
		t.Errorf("Name = %q, want %q", v.Name, Unknown)
	}
	if v.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", v.Confidence)
	}
	if len(v.Embedding) != len(probe) {
		t.Error("verdict must always carry the probe embedding")
	}
}

func TestSearchMatch(t *testing.T) {
	r := newTestRegistry(t, NewMemoryStore())
	if err := r.Enroll("alice", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := r.Enroll("bob", []float32{0, 1, 0}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	v := r.Search([]float32{0.9, 0.1, 0})
	if v.Name != "alice" {
		t.Fatalf("Name = %q, want alice", v.Name)
	}
	want := r.Threshold() + 0.05
	if math.Abs(float64(v.Confidence-want)) > 1e-6 {
		t.Errorf("Confidence = %v, want %v", v.Confidence, want)
	}
}

func TestSearchBelowThreshold(t *testing.T) {
	r := newTestRegistry(t, NewMemoryStore())
	r.Enroll("alice", []float32{1, 0, 0})

	// Orthogonal probe: similarity 0, well below threshold.
	v := r.Search([]float32{0, 0, 1})
	if v.Name != Unknown || v.Confidence != 0 {
		t.Errorf("verdict = %q/%v, want unknown/0", v.Name, v.Confidence)
	}
	if len(v.Embedding) == 0 {
		t.Error("unmatched verdict must still carry the embedding")
	}
}

func TestEnrollLastWriteWins(t *testing.T) {
	r := newTestRegistry(t, NewMemoryStore())
	r.Enroll("alice", []float32{1, 0, 0})
	r.Enroll("alice", []float32{0, 0, 1})

	if n := r.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	if v := r.Search([]float32{0, 0, 1}); v.Name != "alice" {
		t.Errorf("re-enrolled embedding not in effect: verdict %q", v.Name)
	}
	if v := r.Search([]float32{1, 0, 0}); v.Name != Unknown {
		t.Errorf("old embedding still matches: verdict %q", v.Name)
	}
}

func TestEnrollValidation(t *testing.T) {
	r := newTestRegistry(t, NewMemoryStore())
	if err := r.Enroll("", []float32{1, 0, 0}); err == nil {
		t.Error("empty name should fail")
	}
	if err := r.Enroll("alice", []float32{1, 0}); err == nil {
		t.Error("wrong dimension should fail")
	}
}

func TestEnrollPersists(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRegistry(t, store)
	r.Enroll("alice", []float32{1, 0, 0})

	// A fresh registry over the same store sees the profile.
	r2 := newTestRegistry(t, store)
	if v := r2.Search([]float32{1, 0, 0}); v.Name != "alice" {
		t.Errorf("reloaded registry verdict = %q, want alice", v.Name)
	}
}

func TestEnrollSurvivesPersistFailure(t *testing.T) {
	store := NewMemoryStore()
	store.SaveErr = errors.New("disk full")
	r := newTestRegistry(t, store)

	if err := r.Enroll("alice", []float32{1, 0, 0}); err == nil {
		t.Fatal("Enroll should report the persistence failure")
	}
	// The in-memory profile still serves searches.
	if v := r.Search([]float32{1, 0, 0}); v.Name != "alice" {
		t.Errorf("verdict = %q, want alice", v.Name)
	}
}

func TestDelete(t *testing.T) {
	r := newTestRegistry(t, NewMemoryStore())
	r.Enroll("alice", []float32{1, 0, 0})

	ok, err := r.Delete("alice")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v; want true, nil", ok, err)
	}
	ok, err = r.Delete("alice")
	if err != nil || ok {
		t.Fatalf("second Delete = %v, %v; want false, nil", ok, err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestLoadSkipsMismatchedDimension(t *testing.T) {
	store := NewMemoryStore()
	store.Save("test-model", []Profile{
		{Name: "good", Embedding: []float32{1, 0, 0}},
		{Name: "stale", Embedding: []float32{1, 0}},
	})

	r := newTestRegistry(t, store)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if names := r.List(); len(names) != 1 || names[0] != "good" {
		t.Errorf("List = %v, want [good]", names)
	}
}

func TestList(t *testing.T) {
	r := newTestRegistry(t, NewMemoryStore())
	r.Enroll("zoe", []float32{1, 0, 0})
	r.Enroll("amy", []float32{0, 1, 0})

	names := r.List()
	if len(names) != 2 || names[0] != "amy" || names[1] != "zoe" {
		t.Errorf("List = %v, want [amy zoe]", names)
	}
}

func TestEffectiveThreshold(t *testing.T) {
	tests := []struct {
		model      string
		configured float32
		want       float32
	}{
		{"nemo-speakernet", DefaultThreshold, 0.6},
		{"nemo-speakernet", 0.8, 0.8},
		{"3dspeaker", DefaultThreshold, DefaultThreshold},
	}
	for _, tt := range tests {
		if got := EffectiveThreshold(tt.model, tt.configured); got != tt.want {
			t.Errorf("EffectiveThreshold(%q, %v) = %v, want %v",
				tt.model, tt.configured, got, tt.want)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scaled", []float32{1, 1}, []float32{5, 5}, 1},
		{"mismatched", []float32{1, 0}, []float32{1, 0, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, -1},
	}
	for _, tt := range tests {
		got := CosineSimilarity(tt.a, tt.b)
		if math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("%s: CosineSimilarity = %v, want %v", tt.name, got, tt.want)
		}
	}
}
