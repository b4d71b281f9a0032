package stream

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/api/iterator"

	"github.com/voicekit/voicegate/pkg/engine/enginetest"
)

// newTestSynth generates at 16k so tests exercise the chunking path
// without rate conversion: 100 samples per rune, frames of 512.
func newTestSynth() *enginetest.Synthesizer {
	return &enginetest.Synthesizer{SampleRate: 16000, SamplesPerRune: 100, FrameSize: 512}
}

func drainTTS(t *testing.T, s *TTSStream) (audio int, final Chunk) {
	t.Helper()
	for {
		c, err := s.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if c.Final {
			if _, err := s.Read(); !errors.Is(err, iterator.Done) {
				t.Fatalf("Read after final = %v, want iterator.Done", err)
			}
			return audio, c
		}
		if len(c.Audio) == 0 {
			t.Fatal("non-final chunk without audio")
		}
		audio += len(c.Audio) / 2
	}
}

func TestTTSStreamsSegmentsWithPause(t *testing.T) {
	synth := newTestSynth()
	s := NewTTS(synth, TTSConfig{
		SampleRate: 16000,
		ChunkSize:  100,
		Split:      true,
		Pause:      10 * time.Millisecond, // 160 samples
	})
	defer s.Close()

	s.Write("hello, world")
	s.CloseSend()

	audio, final := drainTTS(t, s)

	// 5 runes per segment at 100 samples each, plus one 160-sample gap.
	want := 500 + 160 + 500
	if audio != want {
		t.Errorf("streamed %d samples, want %d", audio, want)
	}
	if final.Samples != want {
		t.Errorf("final.Samples = %d, want %d", final.Samples, want)
	}
	if final.Duration != time.Duration(want)*time.Second/16000 {
		t.Errorf("final.Duration = %v", final.Duration)
	}
	if final.Elapsed <= 0 {
		t.Errorf("final.Elapsed = %v, want > 0", final.Elapsed)
	}

	calls := synth.Calls()
	if len(calls) != 2 || calls[0] != "hello" || calls[1] != "world" {
		t.Errorf("synthesized segments = %v, want [hello world]", calls)
	}
}

func TestTTSChunkSizeFraming(t *testing.T) {
	synth := newTestSynth()
	s := NewTTS(synth, TTSConfig{SampleRate: 16000, ChunkSize: 128, Split: false})
	defer s.Close()

	s.Write("hello") // 500 samples
	s.CloseSend()

	var sizes []int
	for {
		c, err := s.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if c.Final {
			break
		}
		sizes = append(sizes, len(c.Audio)/2)
	}
	// Full chunks first, remainder flushed at segment end.
	want := []int{128, 128, 128, 116}
	if len(sizes) != len(want) {
		t.Fatalf("chunk sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("chunk sizes = %v, want %v", sizes, want)
		}
	}
}

func TestTTSSkipsEmptySegments(t *testing.T) {
	synth := newTestSynth()
	synth.EmptyOn = map[string]bool{"world": true}
	s := NewTTS(synth, TTSConfig{
		SampleRate: 16000,
		ChunkSize:  100,
		Split:      true,
		Pause:      10 * time.Millisecond,
	})
	defer s.Close()

	s.Write("hello, world")
	s.CloseSend()

	audio, final := drainTTS(t, s)
	want := 500 + 160 // hello plus the gap; world contributed nothing
	if audio != want || final.Samples != want {
		t.Errorf("samples = %d/%d, want %d", audio, final.Samples, want)
	}
}

func TestTTSSkipsFailedSegments(t *testing.T) {
	synth := newTestSynth()
	synth.FailOn = map[string]bool{"bad": true}
	s := NewTTS(synth, TTSConfig{SampleRate: 16000, ChunkSize: 100, Split: true, Pause: 10 * time.Millisecond})
	defer s.Close()

	s.Write("bad, good")
	s.CloseSend()

	audio, _ := drainTTS(t, s)
	if audio != 400 { // "good" only: 4 runes
		t.Errorf("streamed %d samples, want 400", audio)
	}
}

func TestTTSInvalidSpeakerFallsBack(t *testing.T) {
	synth := newTestSynth()
	s := NewTTS(synth, TTSConfig{SampleRate: 16000, SpeakerID: 99, Split: false})
	defer s.Close()

	s.Write("hi")
	s.CloseSend()

	if _, final := drainTTS(t, s); final.Samples != 200 {
		t.Errorf("final.Samples = %d, want 200", final.Samples)
	}
}

func TestTTSMultipleWrites(t *testing.T) {
	synth := newTestSynth()
	s := NewTTS(synth, TTSConfig{SampleRate: 16000, Split: false})
	defer s.Close()

	s.Write("one")
	s.Write("two")
	s.CloseSend()

	audio, final := drainTTS(t, s)
	if audio != 600 || final.Samples != 600 {
		t.Errorf("samples = %d/%d, want 600", audio, final.Samples)
	}
}

func TestTTSEmptyInput(t *testing.T) {
	s := NewTTS(newTestSynth(), TTSConfig{SampleRate: 16000, Split: true})
	defer s.Close()

	s.CloseSend()

	c, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !c.Final || c.Samples != 0 {
		t.Fatalf("chunk = %+v, want empty final summary", c)
	}
}

func TestSynthesizeWaveform(t *testing.T) {
	synth := newTestSynth()
	samples, err := Synthesize(synth, TTSConfig{
		SampleRate: 16000,
		Split:      true,
		Pause:      10 * time.Millisecond,
	}, "hello, world")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(samples) != 500+160+500 {
		t.Errorf("len = %d, want %d", len(samples), 500+160+500)
	}
}

func TestSynthesizeFails(t *testing.T) {
	synth := newTestSynth()
	synth.FailOn = map[string]bool{"bad": true}
	if _, err := Synthesize(synth, TTSConfig{SampleRate: 16000, Split: false}, "bad"); err == nil {
		t.Fatal("Synthesize should surface engine errors")
	}
}
