package httpsynth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/voxcall/pkg/provider/tts"
	"github.com/MrWong99/voxcall/pkg/types"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestSynthesize_TwoParts(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		got   []synthRequest
		auth  string
		polls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		got = append(got, req)
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch req.RequestedPart {
		case 1:
			_ = json.NewEncoder(w).Encode(synthResponse{Success: true, Audio: b64("A"), HasSecondPart: true})
		case 2:
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()
			if n == 1 {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			_ = json.NewEncoder(w).Encode(synthResponse{Success: true, Audio: b64("B")})
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAPIKey("tok"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := tts.Request{Text: "Hi. Bye.", Character: "lumi", Voice: types.VoiceProfile{ID: "v1"}, Part: tts.PartFirst}

	res, err := c.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("part 1: %v", err)
	}
	if string(res.Audio) != "A" || !res.HasSecondPart {
		t.Errorf("part 1 = %q/%v, want A/true", res.Audio, res.HasSecondPart)
	}

	req.Part = tts.PartSecond
	if _, err := c.Synthesize(context.Background(), req); !errors.Is(err, tts.ErrPartNotReady) {
		t.Fatalf("first poll err = %v, want ErrPartNotReady", err)
	}
	res, err = c.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if string(res.Audio) != "B" || res.HasSecondPart {
		t.Errorf("part 2 = %q/%v, want B/false", res.Audio, res.HasSecondPart)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", auth)
	}
	if got[0].Character != "lumi" || got[0].VoiceID != "v1" || got[0].Text != "Hi. Bye." {
		t.Errorf("request = %+v", got[0])
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      synthResponse
		part    int
		want    string
		wantErr error
		anyErr  bool
	}{
		{name: "text only", in: synthResponse{Success: true}, part: 1},
		{name: "audio", in: synthResponse{Success: true, Audio: b64("x")}, part: 1, want: "x"},
		{name: "pending part 2", in: synthResponse{Pending: true}, part: 2, wantErr: tts.ErrPartNotReady},
		{name: "unsuccessful", in: synthResponse{Success: false, Error: "voice busy"}, part: 1, anyErr: true},
		{name: "bad base64", in: synthResponse{Success: true, Audio: "%%%"}, part: 1, anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := decode(tt.in, tt.part)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("expected error, got nil")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if string(res.Audio) != tt.want {
					t.Errorf("audio = %q, want %q", res.Audio, tt.want)
				}
			}
		})
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	if _, err := c.Synthesize(context.Background(), tts.Request{Text: "x", Part: tts.PartFirst}); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestNew_EmptyEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
