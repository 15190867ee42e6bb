package translate

import (
	"context"
	"fmt"
	"sync"

	"lingolink/pkg/interfaces"
)

// Mock is a deterministic in-process provider for tests and local
// development. Translations are the source text wrapped with the target
// language tag; synthesized audio is a short marker payload.
type Mock struct {
	mu    sync.Mutex
	calls []interfaces.TranslateRequest

	// Fail makes calls for these target languages return an error.
	Fail map[string]error
}

var _ interfaces.Translator = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{Fail: make(map[string]error)}
}

func (m *Mock) Translate(ctx context.Context, req interfaces.TranslateRequest) (interfaces.TranslateResult, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.TranslateResult{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	failErr := m.Fail[req.TargetLanguage]
	m.mu.Unlock()

	if failErr != nil {
		return interfaces.TranslateResult{}, failErr
	}

	source := req.Text
	if source == "" {
		source = fmt.Sprintf("(transcribed %d bytes)", len(req.Audio))
	}

	res := interfaces.TranslateResult{
		SourceText: source,
		Text:       fmt.Sprintf("[%s] %s", req.TargetLanguage, source),
	}
	if req.WantAudio {
		res.Audio = []byte("tts:" + req.TargetLanguage)
	}
	return res, nil
}

// Calls returns a copy of every request seen so far.
func (m *Mock) Calls() []interfaces.TranslateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interfaces.TranslateRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor counts requests targeting one language.
func (m *Mock) CallsFor(lang string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.TargetLanguage == lang {
			n++
		}
	}
	return n
}
