// SPDX-License-Identifier: MIT

package aigw

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/broadcomms/brainstormx/internal/workshop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts a sequence of responses and counts calls.
type fakeProvider struct {
	mu      sync.Mutex
	calls   atomic.Int64
	script  []error // error per call; nil means success
	content string
	block   chan struct{} // if set, calls block until closed
}

func (f *fakeProvider) Generate(ctx context.Context, req Request) (Response, error) {
	n := f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Response{}, &ProviderError{Sentinel: ErrTimeout, Operation: "generate", Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	var err error
	if int(n) <= len(f.script) {
		err = f.script[n-1]
	}
	f.mu.Unlock()
	if err != nil {
		return Response{}, err
	}
	content := f.content
	if content == "" {
		content = "generated"
	}
	return Response{Content: content, ModelID: "fake"}, nil
}

func testOptions() Options {
	return Options{Timeout: time.Second, RetryMax: 3, RetryBase: time.Millisecond}
}

func snapshotCtx() ContextSnapshot {
	return ContextSnapshot{Title: "Q3 Planning", Objective: "Ship it", ParticipantCount: 3}
}

func TestGenerateSuccess(t *testing.T) {
	provider := &fakeProvider{}
	g := New(provider, testOptions())

	artifact, err := g.Generate(context.Background(), "sess-1", workshop.TagAgenda, snapshotCtx())
	require.NoError(t, err)
	assert.Equal(t, workshop.TagAgenda, artifact.Tag)
	assert.Equal(t, "generated", artifact.Content)
	assert.NotEmpty(t, artifact.ID)
	assert.NotEmpty(t, artifact.RequestID)
	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestGenerateRetriesTransientThenSucceeds(t *testing.T) {
	// Two timeouts, then success: exactly one artifact, three provider calls.
	provider := &fakeProvider{script: []error{
		&ProviderError{Sentinel: ErrTimeout, Operation: "generate"},
		&ProviderError{Sentinel: ErrTimeout, Operation: "generate"},
		nil,
	}}
	g := New(provider, testOptions())

	artifact, err := g.Generate(context.Background(), "sess-1", workshop.TagAgenda, snapshotCtx())
	require.NoError(t, err)
	assert.Equal(t, "generated", artifact.Content)
	assert.EqualValues(t, 3, provider.calls.Load())
}

func TestGenerateExhaustsRetries(t *testing.T) {
	provider := &fakeProvider{script: []error{
		&ProviderError{Sentinel: ErrUpstream},
		&ProviderError{Sentinel: ErrUpstream},
		&ProviderError{Sentinel: ErrUpstream},
	}}
	g := New(provider, testOptions())

	_, err := g.Generate(context.Background(), "sess-1", workshop.TagRules, snapshotCtx())
	require.ErrorIs(t, err, ErrUpstream)
	assert.EqualValues(t, 3, provider.calls.Load())
}

func TestGenerateRejectionFailsImmediately(t *testing.T) {
	provider := &fakeProvider{script: []error{
		&ProviderError{Sentinel: ErrProviderRejected},
	}}
	g := New(provider, testOptions())

	_, err := g.Generate(context.Background(), "sess-1", workshop.TagRules, snapshotCtx())
	require.ErrorIs(t, err, ErrProviderRejected)
	assert.EqualValues(t, 1, provider.calls.Load(), "non-transient failures must not retry")
}

func TestGenerateDedupsConcurrentCalls(t *testing.T) {
	provider := &fakeProvider{block: make(chan struct{})}
	g := New(provider, testOptions())

	var wg sync.WaitGroup
	results := make([]*workshop.Artifact, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifact, err := g.Generate(context.Background(), "sess-1", workshop.TagIcebreaker, snapshotCtx())
			assert.NoError(t, err)
			results[i] = artifact
		}(i)
	}

	// Let both callers reach the gateway before releasing the provider.
	require.Eventually(t, func() bool { return provider.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(provider.block)
	wg.Wait()

	assert.EqualValues(t, 1, provider.calls.Load(), "concurrent calls for one (session,stage) must share one provider call")
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, results[0].ID, results[1].ID)
}

func TestGenerateDistinctKeysAreIndependent(t *testing.T) {
	provider := &fakeProvider{}
	g := New(provider, testOptions())

	_, err := g.Generate(context.Background(), "sess-1", workshop.TagAgenda, snapshotCtx())
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "sess-2", workshop.TagAgenda, snapshotCtx())
	require.NoError(t, err)
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestGenerateCancelledContext(t *testing.T) {
	provider := &fakeProvider{script: []error{
		&ProviderError{Sentinel: ErrTimeout},
	}}
	g := New(provider, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, "sess-1", workshop.TagAgenda, snapshotCtx())
	assert.Error(t, err)
}

func TestBuildPromptUnknownTag(t *testing.T) {
	_, err := BuildPrompt(workshop.ArtifactTag("bogus"), snapshotCtx())
	assert.ErrorIs(t, err, ErrBadContext)
}

func TestExtractField(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		key  string
		want string
	}{
		{
			name: "clean json",
			raw:  `{"icebreaker": "What superpower would help us ship faster?"}`,
			key:  "icebreaker",
			want: "What superpower would help us ship faster?",
		},
		{
			name: "json wrapped in prose",
			raw:  "Sure! Here you go:\n{\"tip\": \"Timebox every debate.\"}\nHope that helps.",
			key:  "tip",
			want: "Timebox every debate.",
		},
		{
			name: "no json falls back to raw",
			raw:  "  Just a plain sentence.  ",
			key:  "icebreaker",
			want: "Just a plain sentence.",
		},
		{
			name: "missing key falls back to raw",
			raw:  `{"other": "value"}`,
			key:  "tip",
			want: `{"other": "value"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractField(tt.raw, tt.key))
		})
	}
}

func TestCleanContentPerTag(t *testing.T) {
	raw := `{"icebreaker": "Two truths and a lie?"}`
	assert.Equal(t, "Two truths and a lie?", CleanContent(workshop.TagIcebreaker, raw))
	assert.Equal(t, raw, CleanContent(workshop.TagAgenda, raw))
}
