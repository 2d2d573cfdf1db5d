// Package memory contains an in-memory dataset publisher for tests and dry runs.
package memory

import (
	"context"
	"sync"
)

// Version captures one PublishVersion call.
type Version struct {
	Dir  string
	Note string
}

// Publisher records published versions for inspection.
type Publisher struct {
	mu       sync.RWMutex
	versions []Version
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// PublishVersion records the call.
func (p *Publisher) PublishVersion(_ context.Context, dir string, note string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.versions = append(p.versions, Version{Dir: dir, Note: note})
	return nil
}

// Versions returns the recorded publishes.
func (p *Publisher) Versions() []Version {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Version, len(p.versions))
	copy(out, p.versions)
	return out
}
