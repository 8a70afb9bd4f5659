package usecases

import (
	"context"
	"sync"
)

type fakeAI struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeAI) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}
