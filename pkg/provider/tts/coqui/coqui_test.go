package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voxcall/pkg/types"
)

// buildTestWAV returns a minimal mono 16 kHz PCM WAV file holding pcm.
func buildTestWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1))     // PCM
	_ = binary.Write(&buf, le, uint16(1))     // mono
	_ = binary.Write(&buf, le, uint32(16000)) // sample rate
	_ = binary.Write(&buf, le, uint32(32000)) // byte rate
	_ = binary.Write(&buf, le, uint16(2))     // block align
	_ = binary.Write(&buf, le, uint16(16))    // bits per sample
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty serverURL")
	}
	if _, err := New("http://localhost:5002", WithAPIMode("grpc")); err == nil {
		t.Error("expected error for unknown api mode")
	}
	p := mustNew(t, "http://localhost:5002/")
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q, want trailing slash trimmed", p.serverURL)
	}
	if p.apiMode != APIModeStandard || p.language != defaultLanguage {
		t.Errorf("defaults = %q/%q, want standard/en", p.apiMode, p.language)
	}
}

func TestSynthesizeText_StandardAPI(t *testing.T) {
	t.Parallel()
	wav := buildTestWAV(bytes.Repeat([]byte{0x33}, 80))

	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithLanguage("de"))
	got, err := p.SynthesizeText(context.Background(), "Hallo Welt.", types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeText: %v", err)
	}
	if !bytes.Equal(got, wav) {
		t.Errorf("returned %d bytes, want the %d-byte WAV file unchanged", len(got), len(wav))
	}
	for key, want := range map[string]string{"text": "Hallo Welt.", "speaker_id": "p225", "language_id": "de"} {
		if v := gotQuery[key]; len(v) != 1 || v[0] != want {
			t.Errorf("query %s = %v, want %q", key, v, want)
		}
	}
}

func TestSynthesizeText_XTTS(t *testing.T) {
	t.Parallel()
	wav := buildTestWAV([]byte{1, 2, 3, 4})

	var body xttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != xttsEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	if _, err := p.SynthesizeText(context.Background(), "Hi.", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error without a voice id in xtts mode")
	}

	got, err := p.SynthesizeText(context.Background(), "Hi.", types.VoiceProfile{ID: "lumi.wav"})
	if err != nil {
		t.Fatalf("SynthesizeText: %v", err)
	}
	if !bytes.Equal(got, wav) {
		t.Error("WAV file not returned unchanged")
	}
	if body.Text != "Hi." || body.SpeakerWav != "lumi.wav" || body.Language != "en" {
		t.Errorf("request body = %+v", body)
	}
}

func TestSynthesizeText_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		text    string
		wantSub string
	}{
		{
			name:    "empty text",
			handler: func(w http.ResponseWriter, _ *http.Request) {},
			text:    "  ",
			wantSub: "text must not be empty",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			text:    "Hello.",
			wantSub: "status 500",
		},
		{
			name: "not a wav",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(strings.Repeat("x", 64)))
			},
			text:    "Hello.",
			wantSub: "RIFF/WAVE",
		},
		{
			name: "truncated",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("RIFF"))
			},
			text:    "Hello.",
			wantSub: "too short",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := mustNew(t, srv.URL).SynthesizeText(context.Background(), tt.text, types.VoiceProfile{})
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestSynthesizeText_ContextCancelled(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mustNew(t, srv.URL).SynthesizeText(ctx, "Hello.", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
