package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("ai: empty completion")

// Prompt is a single chat request.
type Prompt struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// LLM generates text for ranking, digests and podcast scripts.
type LLM interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// TTS turns one line of text into MP3 audio.
type TTS interface {
	Speak(ctx context.Context, voice, text string) ([]byte, error)
}

// OpenAIClient implements LLM and TTS using the OpenAI API.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	ttsModel string
}

type Config struct {
	APIKey   string
	Model    string
	TTSModel string
	BaseURL  string // optional, any OpenAI-compatible endpoint
}

func NewOpenAI(cfg Config) *OpenAIClient {
	var c *openai.Client
	if cfg.BaseURL != "" {
		cc := openai.DefaultConfig(cfg.APIKey)
		cc.BaseURL = cfg.BaseURL
		c = openai.NewClientWithConfig(cc)
	} else {
		c = openai.NewClient(cfg.APIKey)
	}
	model := cfg.Model
	if model == "" {
		panic("OpenAI model must be specified")
	}
	tts := cfg.TTSModel
	if tts == "" {
		tts = string(openai.TTSModel1)
	}
	return &OpenAIClient{client: c, model: model, ttsModel: tts}
}

// Generate runs one chat completion.
func (o *OpenAIClient) Generate(ctx context.Context, p Prompt) (string, error) {
	// Default timeout guard, if caller didn't set one
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 120*time.Second)
		defer cancel()
	}
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})
	temp := p.Temperature
	if temp <= 0 {
		temp = 0.4
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: temp,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		slog.Error("openai: chat completion error", "model", o.model, "err", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Speak synthesizes text with the given voice and returns MP3 bytes.
func (o *OpenAIClient) Speak(ctx context.Context, voice, text string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
	}
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voiceOrDefault(voice)),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()
	b, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return b, nil
}

func voiceOrDefault(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return string(openai.VoiceAlloy)
	}
	return v
}
