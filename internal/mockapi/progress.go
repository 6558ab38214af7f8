package mockapi

import (
	"context"
	"sync"
)

// Progress remembers which workers logged in, which songs each finished and
// every response received.
type Progress interface {
	Register(ctx context.Context, workerID string) error
	// Completed returns the song ids the worker submitted. known is false for
	// a worker that never logged in.
	Completed(ctx context.Context, workerID string) (done map[string]bool, known bool, err error)
	// Record stores resp and marks its song done. It reports false, storing
	// nothing, for an unknown worker.
	Record(ctx context.Context, resp Response) (bool, error)
	Responses(ctx context.Context) ([]Response, error)
}

type memoryProgress struct {
	mu        sync.Mutex
	completed map[string]map[string]bool
	responses []Response
}

func NewMemoryProgress() Progress {
	return &memoryProgress{completed: map[string]map[string]bool{}}
}

func (p *memoryProgress) Register(ctx context.Context, workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.completed[workerID]; !ok {
		p.completed[workerID] = map[string]bool{}
	}
	return nil
}

func (p *memoryProgress) Completed(ctx context.Context, workerID string) (map[string]bool, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	done, ok := p.completed[workerID]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]bool, len(done))
	for k, v := range done {
		out[k] = v
	}
	return out, true, nil
}

func (p *memoryProgress) Record(ctx context.Context, resp Response) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	done, ok := p.completed[resp.WorkerID]
	if !ok {
		return false, nil
	}
	done[resp.SongID] = true
	p.responses = append(p.responses, resp)
	return true, nil
}

func (p *memoryProgress) Responses(ctx context.Context) ([]Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Response(nil), p.responses...), nil
}
