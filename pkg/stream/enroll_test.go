package stream

import (
	"testing"
	"time"

	"github.com/voicekit/voicegate/pkg/engine/enginetest"
	"github.com/voicekit/voicegate/pkg/speaker"
)

func TestEnrollerCommit(t *testing.T) {
	enc := &enginetest.Encoder{Dim: 3, Embed: func([]float32) []float32 {
		return []float32{0, 1, 0}
	}}
	reg := newTestRegistry(t)

	e := NewEnroller(enc, reg, EnrollConfig{
		SampleRate: 16000,
		MinAudio:   100 * time.Millisecond,
	})

	e.Add(frame(800))
	if e.Ready() {
		t.Fatal("Ready with half the audio")
	}
	if err := e.Commit("bob"); err == nil {
		t.Fatal("Commit before enough audio should fail")
	}

	e.Add(frame(800))
	if !e.Ready() {
		t.Fatalf("not Ready with %v collected", e.Collected())
	}
	if err := e.Commit("bob"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if v := reg.Search([]float32{0, 1, 0}); v.Name != "bob" {
		t.Errorf("post-enrollment verdict = %q, want bob", v.Name)
	}
}

func TestEnrollerIgnoresMalformedFrames(t *testing.T) {
	e := NewEnroller(&enginetest.Encoder{Dim: 3}, newTestRegistry(t), EnrollConfig{
		SampleRate: 16000,
		MinAudio:   100 * time.Millisecond,
	})

	e.Add([]byte{1, 2, 3})
	if e.Collected() != 0 {
		t.Errorf("Collected = %v after malformed frame, want 0", e.Collected())
	}
}

func TestEnrollerReEnrollReplaces(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &enginetest.Encoder{Dim: 3, Embed: func([]float32) []float32 {
		return []float32{0, 0, 1}
	}}
	e := NewEnroller(enc, reg, EnrollConfig{SampleRate: 16000, MinAudio: 100 * time.Millisecond})

	e.Add(frame(1600))
	if err := e.Commit("alice"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// alice's profile now points at the new embedding.
	if v := reg.Search([]float32{0, 0, 1}); v.Name != "alice" {
		t.Errorf("verdict = %q, want alice", v.Name)
	}
	if v := reg.Search([]float32{1, 0, 0}); v.Name != speaker.Unknown {
		t.Errorf("old embedding verdict = %q, want unknown", v.Name)
	}
}
