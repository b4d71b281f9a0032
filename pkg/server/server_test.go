package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicekit/voicegate/pkg/config"
	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/engine/enginetest"
	"github.com/voicekit/voicegate/pkg/pcm"
	"github.com/voicekit/voicegate/pkg/speaker"
	"github.com/voicekit/voicegate/pkg/stream"
)

func newTestServer(t *testing.T, factory *enginetest.Factory) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Identify.MinSeconds = 0.05
	cfg.Identify.EnrollSeconds = 0.1
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	reg, err := speaker.NewRegistry(cfg.Models.Speaker, 3, cfg.Models.Threshold,
		speaker.NewMemoryStore(), nil)
	if err != nil {
		t.Fatal(err)
	}

	srv := New(cfg, engine.NewCache(factory, nil), reg, stream.NewPool(4), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func testFactory() *enginetest.Factory {
	return &enginetest.Factory{
		Recognizer: &enginetest.Recognizer{SamplesPerToken: 1600, EndpointAfter: 2},
		Synth:      &enginetest.Synthesizer{SampleRate: 16000, SamplesPerRune: 100, FrameSize: 512},
		Encoder: &enginetest.Encoder{Dim: 3, Embed: func([]float32) []float32 {
			return []float32{0, 1, 0}
		}},
	}
}

func wsDial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestHealthz(t *testing.T) {
	srv, ts := newTestServer(t, testFactory())

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("cold healthz = %d, want 503", resp.StatusCode)
	}

	srv.Warmup()
	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("warm healthz = %d, want 200", resp.StatusCode)
	}
	var status map[string]bool
	json.NewDecoder(resp.Body).Decode(&status)
	for _, kind := range []string{"asr", "tts", "speaker"} {
		if !status[kind] {
			t.Errorf("%s not ready after warmup", kind)
		}
	}
}

func TestSpeakerREST(t *testing.T) {
	_, ts := newTestServer(t, testFactory())

	body, _ := json.Marshal(map[string]any{
		"name":      "alice",
		"embedding": []float32{1, 0, 0},
	})
	resp, err := http.Post(ts.URL+"/speakers/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/speakers")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Speakers []string `json:"speakers"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Speakers) != 1 || list.Speakers[0] != "alice" {
		t.Fatalf("speakers = %v, want [alice]", list.Speakers)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/speakers/alice", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d, want 200", resp.StatusCode)
	}

	// Deleting again is a 404.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", resp.StatusCode)
	}
}

func TestSpeakerRegisterFromAudio(t *testing.T) {
	srv, ts := newTestServer(t, testFactory())

	// 0.1s enrollment minimum at 16k = 1600 samples.
	audio := base64.StdEncoding.EncodeToString(pcm.Encode(make([]float32, 1600)))
	body, _ := json.Marshal(map[string]any{"name": "dora", "audio_base64": audio})
	resp, err := http.Post(ts.URL+"/speakers/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register from audio = %d, want 200", resp.StatusCode)
	}
	if srv.registry.Len() != 1 {
		t.Errorf("registry has %d profiles, want 1", srv.registry.Len())
	}
}

func TestSpeakerRegisterFromAudioTooShort(t *testing.T) {
	_, ts := newTestServer(t, testFactory())

	audio := base64.StdEncoding.EncodeToString(pcm.Encode(make([]float32, 800)))
	body, _ := json.Marshal(map[string]any{"name": "dora", "audio_base64": audio})
	resp, err := http.Post(ts.URL+"/speakers/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("short audio register = %d, want 400", resp.StatusCode)
	}
}

func TestSpeakerRegisterValidation(t *testing.T) {
	_, ts := newTestServer(t, testFactory())

	resp, err := http.Post(ts.URL+"/speakers/register", "application/json",
		strings.NewReader(`{"name":""}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty register = %d, want 400", resp.StatusCode)
	}
}

func TestTTSOnce(t *testing.T) {
	_, ts := newTestServer(t, testFactory())

	body, _ := json.Marshal(map[string]any{"text": "hi"})
	resp, err := http.Post(ts.URL+"/tts", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /tts = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	wav := buf.Bytes()
	if len(wav) != 44+200*2 { // "hi": 2 runes at 100 samples each
		t.Errorf("wav size = %d, want %d", len(wav), 44+400)
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Error("response is not a WAV file")
	}
}

func TestTTSOnceRequiresText(t *testing.T) {
	_, ts := newTestServer(t, testFactory())

	resp, err := http.Post(ts.URL+"/tts", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /tts without text = %d, want 400", resp.StatusCode)
	}
}

func TestProcessBase64(t *testing.T) {
	srv, ts := newTestServer(t, testFactory())
	if err := srv.registry.Enroll("carol", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	audio := base64.StdEncoding.EncodeToString(pcm.Encode(make([]float32, 3200)))
	body, _ := json.Marshal(map[string]any{
		"audio_base64": audio,
		"request_id":   "req-1",
		"options":      map[string]any{"include_speaker": true},
	})
	resp, err := http.Post(ts.URL+"/process/base64", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /process/base64 = %d, want 200", resp.StatusCode)
	}

	var res struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
		Text      string `json:"text"`
		Speaker   string `json:"speaker"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.RequestID != "req-1" {
		t.Errorf("result = %+v, want success req-1", res)
	}
	if res.Text != "tok1 tok2" {
		t.Errorf("Text = %q, want %q", res.Text, "tok1 tok2")
	}
	if res.Speaker != "carol" {
		t.Errorf("Speaker = %q, want carol", res.Speaker)
	}
}

func TestProcessAudioUpload(t *testing.T) {
	_, ts := newTestServer(t, testFactory())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio.pcm")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pcm.Encode(make([]float32, 3200)))
	mw.Close()

	resp, err := http.Post(ts.URL+"/process/audio", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /process/audio = %d, want 200", resp.StatusCode)
	}

	var res struct {
		Success bool   `json:"success"`
		Text    string `json:"text"`
		Speaker string `json:"speaker"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Text != "tok1 tok2" {
		t.Errorf("result = %+v, want success %q", res, "tok1 tok2")
	}
	if res.Speaker != "" {
		t.Errorf("Speaker = %q, want empty without include_speaker", res.Speaker)
	}
}

func TestASRWebSocket(t *testing.T) {
	_, ts := newTestServer(t, testFactory())
	conn := wsDial(t, ts, "/asr?samplerate=16000")

	frame := pcm.Encode(make([]float32, 1600))
	conn.WriteMessage(websocket.BinaryMessage, frame)
	conn.WriteMessage(websocket.BinaryMessage, frame)

	var partial, final stream.Transcript
	if err := conn.ReadJSON(&partial); err != nil {
		t.Fatalf("read partial: %v", err)
	}
	if partial.Final || partial.Text != "tok1" {
		t.Errorf("partial = %+v", partial)
	}
	if err := conn.ReadJSON(&final); err != nil {
		t.Fatalf("read final: %v", err)
	}
	if !final.Final || final.Text != "tok1 tok2" {
		t.Errorf("final = %+v", final)
	}
}

func TestASRAnnotationSeesLateEnrollment(t *testing.T) {
	srv, ts := newTestServer(t, testFactory())
	conn := wsDial(t, ts, "/asr?samplerate=16000")

	// The enrollment lands after the connection opened; utterances
	// finished from here on still get labeled.
	if err := srv.registry.Enroll("dave", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	frame := pcm.Encode(make([]float32, 1600))
	conn.WriteMessage(websocket.BinaryMessage, frame)
	conn.WriteMessage(websocket.BinaryMessage, frame)

	var tr stream.Transcript
	for {
		if err := conn.ReadJSON(&tr); err != nil {
			t.Fatalf("read: %v", err)
		}
		if tr.Final {
			break
		}
	}
	if tr.Speaker != "dave" {
		t.Errorf("Speaker = %q, want dave", tr.Speaker)
	}
}

func TestTTSWebSocket(t *testing.T) {
	_, ts := newTestServer(t, testFactory())
	conn := wsDial(t, ts, "/tts?samplerate=16000&chunk_size=100&split=false")

	conn.WriteMessage(websocket.TextMessage, []byte("hi"))

	var audio int
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if mt == websocket.BinaryMessage {
			audio += len(data) / 2
			continue
		}
		var sum struct {
			Size     int  `json:"size"`
			Finished bool `json:"finished"`
		}
		if err := json.Unmarshal(data, &sum); err != nil {
			t.Fatalf("unmarshal summary %q: %v", data, err)
		}
		if !sum.Finished || sum.Size != 200 {
			t.Errorf("summary = %+v, want finished size 200", sum)
		}
		break
	}
	if audio != 200 {
		t.Errorf("streamed %d samples, want 200", audio)
	}
}

func TestSpeakerRegisterWebSocket(t *testing.T) {
	srv, ts := newTestServer(t, testFactory())
	conn := wsDial(t, ts, "/speaker_register?name=bob&samplerate=16000")

	// 0.1s at 16k = 1600 samples; send two 800-sample frames.
	frame := pcm.Encode(make([]float32, 800))
	conn.WriteMessage(websocket.BinaryMessage, frame)
	conn.WriteMessage(websocket.BinaryMessage, frame)

	var status struct {
		Status  string `json:"status"`
		Speaker string `json:"speaker"`
	}
	for {
		if err := conn.ReadJSON(&status); err != nil {
			t.Fatalf("read: %v", err)
		}
		if status.Status != "collecting" {
			break
		}
	}
	if status.Status != "registered" || status.Speaker != "bob" {
		t.Fatalf("status = %+v, want registered bob", status)
	}
	if srv.registry.Len() != 1 {
		t.Errorf("registry has %d profiles, want 1", srv.registry.Len())
	}
}

func TestSpeakerIDWebSocket(t *testing.T) {
	srv, ts := newTestServer(t, testFactory())
	if err := srv.registry.Enroll("carol", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	conn := wsDial(t, ts, "/speaker_id?samplerate=16000")

	// 0.05s window at 16k = 800 samples.
	conn.WriteMessage(websocket.BinaryMessage, pcm.Encode(make([]float32, 800)))

	var v struct {
		Speaker    string  `json:"speaker"`
		Confidence float32 `json:"confidence"`
	}
	if err := conn.ReadJSON(&v); err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Speaker != "carol" {
		t.Errorf("Speaker = %q, want carol", v.Speaker)
	}
	if v.Confidence <= 0 {
		t.Errorf("Confidence = %v, want > 0", v.Confidence)
	}
}

func TestSpeakerRegisterRequiresName(t *testing.T) {
	_, ts := newTestServer(t, testFactory())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/speaker_register"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without name should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %v, want 400", resp)
	}
}
