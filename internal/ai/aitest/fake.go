// Package aitest provides in-memory LLM and TTS doubles.
package aitest

import (
	"context"
	"sync"

	"newsdesk/internal/ai"
)

// LLM answers every prompt with Fn and records the prompts it saw.
type LLM struct {
	Fn func(p ai.Prompt) (string, error)

	mu      sync.Mutex
	prompts []ai.Prompt
}

func (l *LLM) Generate(ctx context.Context, p ai.Prompt) (string, error) {
	l.mu.Lock()
	l.prompts = append(l.prompts, p)
	l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.Fn == nil {
		return "", nil
	}
	return l.Fn(p)
}

// Calls returns how many prompts were generated.
func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prompts)
}

// Prompts returns a copy of the recorded prompts.
func (l *LLM) Prompts() []ai.Prompt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ai.Prompt(nil), l.prompts...)
}

// Static returns an LLM that always answers s.
func Static(s string) *LLM {
	return &LLM{Fn: func(ai.Prompt) (string, error) { return s, nil }}
}

// Failing returns an LLM that always fails with err.
func Failing(err error) *LLM {
	return &LLM{Fn: func(ai.Prompt) (string, error) { return "", err }}
}

// TTS returns the text itself as audio bytes, optionally running Hook first.
type TTS struct {
	Hook func(voice, text string)

	mu    sync.Mutex
	lines []string
}

func (t *TTS) Speak(ctx context.Context, voice, text string) ([]byte, error) {
	if t.Hook != nil {
		t.Hook(voice, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.lines = append(t.lines, text)
	t.mu.Unlock()
	return []byte(text), nil
}

// Lines returns the texts synthesized so far.
func (t *TTS) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
