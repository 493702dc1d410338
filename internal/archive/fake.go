package archive

import (
	"context"
	"fmt"
)

// Fake is an in-memory Client for tests and the dev environment.
type Fake struct {
	Threads map[string][]Message
}

// NewFake builds an empty fake archive.
func NewFake() *Fake {
	return &Fake{Threads: make(map[string][]Message)}
}

// Add appends messages to a thread.
func (f *Fake) Add(threadID string, msgs ...Message) {
	f.Threads[threadID] = append(f.Threads[threadID], msgs...)
}

// Messages walks the stored messages of a thread in insertion order.
func (f *Fake) Messages(_ context.Context, threadID string, fn WalkFunc) error {
	for _, msg := range f.Threads[threadID] {
		cont, err := fn(msg)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// ThreadDetails returns the stored thread's list address and first mid.
func (f *Fake) ThreadDetails(_ context.Context, threadID string) (string, string, error) {
	for _, msg := range f.Threads[threadID] {
		if msg.ListRaw == "" {
			continue
		}
		return ListAddressFromList(msg.ListRaw), msg.MID, nil
	}
	return "", "", fmt.Errorf("thread %s has no messages with a list id", threadID)
}

var _ Client = (*Fake)(nil)
