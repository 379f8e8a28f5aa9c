package publish

import (
	"sync"

	"slotwatch/internal/checker"
)

// FakePublisher records outcomes for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	Outcomes []checker.Outcome
	Payloads [][]byte

	// PublishError, if set, is returned by PublishOutcome.
	PublishError error
	Closed       bool
}

var _ Publisher = (*FakePublisher)(nil)

func (f *FakePublisher) PublishOutcome(o checker.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	b, err := FormatPayload(o)
	if err != nil {
		return err
	}
	f.Outcomes = append(f.Outcomes, o)
	f.Payloads = append(f.Payloads, b)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
