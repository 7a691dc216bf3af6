// Package transcriber converts an audio URL into text using an external speech-to-text service.
package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	listen "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

// ErrNotConfigured is returned when no API key is configured.
var ErrNotConfigured = errors.New("transcriber: api key not configured")

// Transcriber turns the audio at audioURL into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

const (
	DefaultModel    = "nova-2"
	DefaultLanguage = "ru"
)

// Config configures the Deepgram client. Empty fields take the package defaults.
type Config struct {
	APIKey string
	// BaseURL overrides the Deepgram host, e.g. a self-hosted deployment or a test server.
	// A scheme prefix (http:// or https://) is honoured.
	BaseURL  string
	Model    string
	Language string
}

var sdkInit sync.Once

// Deepgram transcribes hosted audio with the Deepgram pre-recorded API through the official SDK.
type Deepgram struct {
	options *interfaces.PreRecordedTranscriptionOptions
	// fromURL calls the SDK's pre-recorded FromURL; nil when no API key is configured.
	fromURL func(ctx context.Context, audioURL string) (any, error)
}

// NewDeepgram returns a client for cfg. Without an API key every call fails with ErrNotConfigured.
func NewDeepgram(cfg Config) *Deepgram {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	lang := cfg.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	d := &Deepgram{
		options: &interfaces.PreRecordedTranscriptionOptions{
			Model:    model,
			Language: lang,
		},
	}
	if cfg.APIKey == "" {
		return d
	}
	sdkInit.Do(client.InitWithDefault)
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{
		Host: strings.TrimSuffix(cfg.BaseURL, "/"),
	})
	dg := listen.New(c)
	d.fromURL = func(ctx context.Context, audioURL string) (any, error) {
		res, err := dg.FromURL(ctx, audioURL, d.options)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	return d
}

// transcript is the part of the pre-recorded response the service reads.
type transcript struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe returns the first alternative of the first channel. An empty transcript is valid (silence).
func (d *Deepgram) Transcribe(ctx context.Context, audioURL string) (string, error) {
	if d.fromURL == nil {
		return "", ErrNotConfigured
	}
	res, err := d.fromURL(ctx, audioURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("deepgram: %w", ctxErr)
		}
		return "", fmt.Errorf("deepgram: %w", err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("deepgram: encode response: %w", err)
	}
	var out transcript
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", errors.New("deepgram: response has no transcript")
	}
	return out.Results.Channels[0].Alternatives[0].Transcript, nil
}

// Func adapts a function to Transcriber.
type Func func(ctx context.Context, audioURL string) (string, error)

func (f Func) Transcribe(ctx context.Context, audioURL string) (string, error) {
	return f(ctx, audioURL)
}
