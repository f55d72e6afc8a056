// Package elevenlabs provides an ElevenLabs-backed single-shot synthesizer
// using the ElevenLabs streaming WebSocket API. It implements tts.Engine; wrap
// it in tts.NewSplitter to obtain a two-part tts.Provider.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxcall/pkg/provider/tts"
	"github.com/MrWong99/voxcall/pkg/types"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the WebSocket base URL. Used in tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithDefaultVoice sets the voice used when a request carries no voice ID.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// Provider implements tts.Engine backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	defaultVoice string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// SynthesizeText opens a WebSocket to ElevenLabs, sends text as one fragment
// followed by a flush, and returns the concatenated audio once the server
// signals the final chunk.
func (p *Provider) SynthesizeText(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	conn, _, err := websocket.Dial(ctx, p.buildURL(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	// ElevenLabs requires a non-empty first text value.
	boi, _ := json.Marshal(boiMessage{
		Text:          " ",
		VoiceSettings: settingsFor(voice),
		XiAPIKey:      p.apiKey,
	})
	for _, msg := range [][]byte{boi, mustMessage(text + " "), mustMessage("")} {
		if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
			return nil, fmt.Errorf("elevenlabs: write: %w", err)
		}
	}

	var audio bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && audio.Len() > 0 {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		final, chunk, err := parseAudioResponse(msg)
		if err != nil {
			return nil, err
		}
		audio.Write(chunk)
		if final {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if audio.Len() == 0 {
		return nil, errors.New("elevenlabs: no audio received")
	}
	return audio.Bytes(), nil
}

// buildURL constructs the stream-input WebSocket URL for a voice.
func (p *Provider) buildURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.baseURL, url.PathEscape(voiceID), q.Encode())
}

// parseAudioResponse decodes one server message into its audio bytes.
func parseAudioResponse(data []byte) (final bool, audio []byte, err error) {
	var resp audioResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, nil, nil
	}
	if resp.Error != "" {
		return false, nil, fmt.Errorf("elevenlabs: server error: %s: %s", resp.Error, resp.Message)
	}
	if resp.Audio != "" {
		audio, err = base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			return false, nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
		}
	}
	return resp.IsFinal, audio, nil
}

func settingsFor(voice types.VoiceProfile) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		vs.Speed = voice.SpeedFactor
	}
	return vs
}

func mustMessage(text string) []byte {
	b, _ := json.Marshal(textMessage{Text: text})
	return b
}

var _ tts.Engine = (*Provider)(nil)
