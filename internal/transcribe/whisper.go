package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var ErrNoAPIKey = errors.New("transcription api key is required")

type WhisperOptions struct {
	Model    string
	Language string
	BaseURL  string
}

// Whisper transcribes finished clips through the OpenAI audio API.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
}

func NewWhisper(apiKey string, opts WhisperOptions) (*Whisper, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}

	config := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClientWithConfig(config), model: model, language: opts.Language}, nil
}

func (w *Whisper) TranscribeFile(ctx context.Context, path string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
