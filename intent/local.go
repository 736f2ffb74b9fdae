package intent

import (
	"context"
	"strings"
	"unicode"
)

// LocalRecognizer treats a message as a question when it looks like one and
// names no editing verb. Everything else is an edit.
type LocalRecognizer struct {
	EditKeywords     []string
	QuestionKeywords []string
}

func NewLocalRecognizer() *LocalRecognizer {
	return &LocalRecognizer{
		EditKeywords: []string{
			"add", "remove", "delete", "drop", "change", "rename", "make", "create",
			"move", "update", "set", "insert", "replace", "reorder", "put", "build",
		},
		QuestionKeywords: []string{
			"what", "which", "how", "why", "does", "do", "is", "are", "can", "could",
			"should", "explain", "list", "show", "tell",
		},
	}
}

func (p *LocalRecognizer) RecognizeMode(ctx context.Context, req *Request) (Mode, error) {
	normalized := strings.ToLower(strings.TrimSpace(req.LastUserMessage()))
	if normalized == "" {
		return Agent, nil
	}
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(words) == 0 {
		return Agent, nil
	}
	for _, w := range words {
		for _, keyword := range p.EditKeywords {
			if w == keyword {
				return Agent, nil
			}
		}
	}
	if strings.HasSuffix(normalized, "?") {
		return Ask, nil
	}
	for _, keyword := range p.QuestionKeywords {
		if words[0] == keyword {
			return Ask, nil
		}
	}
	return Agent, nil
}

// FailbackRecognizer returns the first recognizer's answer that did not fail.
type FailbackRecognizer struct {
	recognizers []Recognizer
}

func NewFailbackRecognizer(recognizers ...Recognizer) *FailbackRecognizer {
	return &FailbackRecognizer{recognizers: recognizers}
}

func (p *FailbackRecognizer) RecognizeMode(ctx context.Context, req *Request) (Mode, error) {
	var lastErr error
	for _, r := range p.recognizers {
		mode, err := r.RecognizeMode(ctx, req)
		if err == nil {
			return mode, nil
		}
		lastErr = err
	}
	return Agent, lastErr
}
