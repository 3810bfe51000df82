package provider

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a test provider that plays back scripted streams. Each
// ChatStream call consumes the next script; the last script repeats once
// the queue is exhausted.
type MockProvider struct {
	mu sync.Mutex

	name    string
	scripts [][]StreamEvent
	openErr error
	delay   time.Duration
	calls   int
}

// NewMock creates a mock whose first script streams response as a single
// content delta.
func NewMock(name, response string) *MockProvider {
	p := &MockProvider{name: name}
	if response != "" {
		p.EnqueueText(response)
	}
	return p
}

type MockFactory struct {
	name     string
	response string
}

func NewMockFactory(name, response string) *MockFactory {
	return &MockFactory{name: name, response: response}
}

func (f *MockFactory) Name() string { return f.name }

func (f *MockFactory) Create(model string, opts Options) Provider {
	return NewMock(f.name, f.response)
}

// Enqueue appends one scripted stream, played back verbatim. A trailing
// EventDone is added if the script doesn't end the stream itself.
func (p *MockProvider) Enqueue(events ...StreamEvent) *MockProvider {
	if n := len(events); n == 0 || (events[n-1].Type != EventDone && events[n-1].Type != EventError) {
		events = append(events, StreamEvent{Type: EventDone})
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, events)
	return p
}

// EnqueueText appends a script that streams text as one content delta.
func (p *MockProvider) EnqueueText(text string) *MockProvider {
	return p.Enqueue(StreamEvent{Type: EventContentDelta, Content: text})
}

// EnqueueToolCall appends a script that emits one complete tool call.
func (p *MockProvider) EnqueueToolCall(id, name, args string) *MockProvider {
	return p.Enqueue(
		StreamEvent{Type: EventToolCallBegin, ToolCallIndex: 0, ToolCallID: id, ToolCallName: name},
		StreamEvent{Type: EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: args},
	)
}

// EnqueueStreamError appends a script that fails mid-stream after
// partial content.
func (p *MockProvider) EnqueueStreamError(partial string, err error) *MockProvider {
	events := []StreamEvent{}
	if partial != "" {
		events = append(events, StreamEvent{Type: EventContentDelta, Content: partial})
	}
	events = append(events, StreamEvent{Type: EventError, Err: err})
	return p.Enqueue(events...)
}

// WithOpenError makes ChatStream fail before any stream is opened.
func (p *MockProvider) WithOpenError(err error) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
	return p
}

// SetDelay makes each ChatStream call block for delay before streaming.
func (p *MockProvider) SetDelay(delay time.Duration) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = delay
	return p
}

// Calls reports how many times ChatStream has been invoked.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Name returns the provider identifier.
func (p *MockProvider) Name() string { return p.name }

// ChatStream plays back the next scripted stream.
func (p *MockProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	p.mu.Lock()
	openErr := p.openErr
	delay := p.delay
	var script []StreamEvent
	if len(p.scripts) > 0 {
		i := p.calls
		if i >= len(p.scripts) {
			i = len(p.scripts) - 1
		}
		script = p.scripts[i]
	}
	p.calls++
	p.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	ch := make(chan StreamEvent, len(script)+1)
	go func() {
		defer close(ch)
		for _, evt := range script {
			if !trySend(ctx, ch, evt) {
				return
			}
		}
		if len(script) == 0 {
			trySend(ctx, ch, StreamEvent{Type: EventDone})
		}
	}()
	return ch, nil
}

// ListModels returns a single synthetic model.
func (p *MockProvider) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{Name: "mock-model"}}, nil
}

// Close is a no-op for mock provider (no resources to clean up).
func (p *MockProvider) Close() error { return nil }
