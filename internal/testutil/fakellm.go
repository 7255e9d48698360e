package testutil

import (
	"context"

	"github.com/jbpayton/sophia-ams/internal/llmclient"
)

// FakeLLM is a canned-response test double for llmclient.Client. Responses
// are returned in order; the last one repeats once exhausted.
type FakeLLM struct {
	Responses []string
	Err       error
	calls     int
}

func (f *FakeLLM) Chat(_ context.Context, _ []llmclient.Message, _ llmclient.ChatOptions) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return `{"triples": []}`, nil
	}
	idx := f.calls
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	f.calls++
	return f.Responses[idx], nil
}
