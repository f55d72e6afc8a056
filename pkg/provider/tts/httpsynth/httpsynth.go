// Package httpsynth is a client for speech-synthesis backends that split a
// reply into two parts themselves. It implements tts.Provider over a single
// JSON endpoint:
//
//	POST {base}  {"text": "...", "character": "lumi", "voice_id": "...", "requested_part": 1}
//	200          {"success": true, "audio": "<base64>", "has_second_part": true}
//
// A part-2 response with "pending": true (or HTTP 202) means the remainder is
// still being generated.
package httpsynth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/voxcall/pkg/provider/tts"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(cl *Client) {
		cl.apiKey = key
	}
}

// Client implements tts.Provider over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New creates a Client posting to endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("httpsynth: endpoint must not be empty")
	}
	c := &Client{endpoint: endpoint, http: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type synthRequest struct {
	Text          string  `json:"text"`
	Character     string  `json:"character"`
	VoiceID       string  `json:"voice_id,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
	RequestedPart int     `json:"requested_part"`
}

type synthResponse struct {
	Success       bool   `json:"success"`
	Audio         string `json:"audio"`
	HasSecondPart bool   `json:"has_second_part"`
	Pending       bool   `json:"pending"`
	Error         string `json:"error"`
}

// Synthesize implements tts.Provider.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	body, err := json.Marshal(synthRequest{
		Text:          req.Text,
		Character:     string(req.Character),
		VoiceID:       req.Voice.ID,
		Speed:         req.Voice.SpeedFactor,
		RequestedPart: req.Part,
	})
	if err != nil {
		return nil, fmt.Errorf("httpsynth: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpsynth: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpsynth: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted && req.Part == tts.PartSecond:
		return nil, tts.ErrPartNotReady
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpsynth: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var sr synthResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("httpsynth: decode response: %w", err)
	}
	return decode(sr, req.Part)
}

func decode(sr synthResponse, part int) (*tts.Result, error) {
	if part == tts.PartSecond && sr.Pending {
		return nil, tts.ErrPartNotReady
	}
	if !sr.Success {
		if sr.Error == "" {
			sr.Error = "synthesis unsuccessful"
		}
		return nil, fmt.Errorf("httpsynth: %s", sr.Error)
	}
	res := &tts.Result{HasSecondPart: part == tts.PartFirst && sr.HasSecondPart}
	if sr.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(sr.Audio)
		if err != nil {
			return nil, fmt.Errorf("httpsynth: decode audio: %w", err)
		}
		res.Audio = audio
	}
	return res, nil
}

var _ tts.Provider = (*Client)(nil)
