package inference

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu                 sync.Mutex
	calls              []Request
	infer              func(ctx context.Context, req Request) (string, error)
	available          []string
	availableErr       error
	availabilityChecks int
}

func (b *fakeBackend) Infer(ctx context.Context, req Request) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	infer := b.infer
	b.mu.Unlock()

	if infer == nil {
		return "ok from " + req.Model, nil
	}
	return infer(ctx, req)
}

func (b *fakeBackend) Available(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.availabilityChecks++
	return b.available, b.availableErr
}

func (b *fakeBackend) modelsCalled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	models := make([]string, 0, len(b.calls))
	for _, req := range b.calls {
		models = append(models, req.Model)
	}
	return models
}

func failModels(models ...string) func(ctx context.Context, req Request) (string, error) {
	return func(ctx context.Context, req Request) (string, error) {
		for _, model := range models {
			if req.Model == model {
				return "", statusError(req.Model, http.StatusNotFound, "model not found")
			}
		}
		return "ok from " + req.Model, nil
	}
}

func testConfig() Config {
	return Config{
		FastModels:        []string{"qwen2.5:7b", "llama3.2", "phi3.5"},
		PowerfulModels:    []string{"gpt-oss:20b", "qwen2.5:7b"},
		FastTimeout:       time.Second,
		PowerfulTimeout:   time.Second,
		KeepAlive:         10 * time.Minute,
		FallbackThreshold: 2,
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
}

func TestClient_Generate(t *testing.T) {
	backend := &fakeBackend{}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	text, err := client.Generate(context.Background(), "hello", ModelFast, WithSystem("be brief"))
	require.NoError(t, err)
	assert.Equal(t, "ok from qwen2.5:7b", text)

	text, err = client.Generate(context.Background(), "hello", ModelPowerful)
	require.NoError(t, err)
	assert.Equal(t, "ok from gpt-oss:20b", text)

	require.Len(t, backend.calls, 2)
	assert.Equal(t, "be brief", backend.calls[0].System)
	assert.Equal(t, 10*time.Minute, backend.calls[0].KeepAlive)
}

func TestClient_Generate_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	backend := &fakeBackend{infer: func(ctx context.Context, req Request) (string, error) {
		attempts++
		if attempts < 3 {
			return "", statusError(req.Model, http.StatusServiceUnavailable, "loading")
		}
		return "finally", nil
	}}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	text, err := client.Generate(context.Background(), "hello", ModelFast)
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, client.State()[ModelFast].Failures)
}

func TestClient_Generate_GivesUpAfterMaxRetries(t *testing.T) {
	backend := &fakeBackend{infer: func(ctx context.Context, req Request) (string, error) {
		return "", statusError(req.Model, http.StatusBadGateway, "")
	}}
	retry := RetryPolicy{MaxRetries: 2, BaseDelay: 5 * time.Millisecond, Multiplier: 2}
	client := NewClient(backend, retry, testConfig(), clockwork.NewRealClock())

	started := time.Now()
	_, err := client.Generate(context.Background(), "hello", ModelFast)
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)

	var inferenceErr *Error
	require.ErrorAs(t, err, &inferenceErr)
	assert.Equal(t, 3, inferenceErr.Attempts)
	assert.Equal(t, http.StatusBadGateway, inferenceErr.StatusCode)
	assert.Equal(t, "qwen2.5:7b", inferenceErr.Model)

	assert.Len(t, backend.calls, 3)
	assert.GreaterOrEqual(t, elapsed, retry.TotalBackoff())
}

func TestClient_Generate_FatalNotRetried(t *testing.T) {
	backend := &fakeBackend{infer: failModels("qwen2.5:7b")}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	_, err := client.Generate(context.Background(), "hello", ModelFast)

	assert.ErrorIs(t, err, ErrFatal)
	assert.Len(t, backend.calls, 1)
	assert.Equal(t, 1, client.State()[ModelFast].Failures)
}

func TestClient_Generate_SwitchesToInstalledFallback(t *testing.T) {
	backend := &fakeBackend{
		infer:     failModels("qwen2.5:7b"),
		available: []string{"phi3.5:latest", "gpt-oss:20b"},
	}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	for range 2 {
		_, err := client.Generate(context.Background(), "hello", ModelFast)
		require.Error(t, err)
	}

	state := client.State()[ModelFast]
	assert.Equal(t, "phi3.5", state.Current, "llama3.2 is skipped because it is not installed")
	assert.Equal(t, 1, backend.availabilityChecks)

	text, err := client.Generate(context.Background(), "hello", ModelFast)
	require.NoError(t, err)
	assert.Equal(t, "ok from phi3.5", text)

	// Other classes keep their own selection
	assert.Equal(t, "gpt-oss:20b", client.State()[ModelPowerful].Current)
}

func TestClient_Generate_AvailabilityFailureAdvancesInOrder(t *testing.T) {
	backend := &fakeBackend{
		infer:        failModels("qwen2.5:7b"),
		availableErr: errors.New("connection refused"),
	}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	for range 2 {
		_, _ = client.Generate(context.Background(), "hello", ModelFast)
	}

	assert.Equal(t, "llama3.2", client.State()[ModelFast].Current)
}

func TestClient_Generate_NoInstalledFallback(t *testing.T) {
	backend := &fakeBackend{
		infer:     failModels("qwen2.5:7b"),
		available: []string{"mistral:7b"},
	}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	for range 3 {
		_, _ = client.Generate(context.Background(), "hello", ModelFast)
	}

	assert.Equal(t, "qwen2.5:7b", client.State()[ModelFast].Current)
}

func TestClient_Reset(t *testing.T) {
	backend := &fakeBackend{
		infer:     failModels("qwen2.5:7b"),
		available: []string{"llama3.2"},
	}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	for range 2 {
		_, _ = client.Generate(context.Background(), "hello", ModelFast)
	}
	require.Equal(t, "llama3.2", client.State()[ModelFast].Current)

	client.Reset()

	assert.Equal(t, "qwen2.5:7b", client.State()[ModelFast].Current)
	assert.Equal(t, 0, client.State()[ModelFast].Failures)
}

func TestClient_Generate_ColdStartGrace(t *testing.T) {
	backend := &fakeBackend{infer: func(ctx context.Context, req Request) (string, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return "loaded", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	config := testConfig()
	config.FastTimeout = 40 * time.Millisecond
	config.ColdStartGrace = 500 * time.Millisecond
	client := NewClient(backend, RetryPolicy{}, config, clockwork.NewRealClock())

	text, err := client.Generate(context.Background(), "hello", ModelFast)
	require.NoError(t, err, "first call gets the cold start grace")
	assert.Equal(t, "loaded", text)

	_, err = client.Generate(context.Background(), "hello", ModelFast)
	require.Error(t, err, "warm model only gets the class budget")
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "attempt timed out")
}

func TestClient_Generate_WithTimeoutOverridesBudget(t *testing.T) {
	backend := &fakeBackend{infer: func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	config := testConfig()
	config.FastTimeout = time.Hour
	client := NewClient(backend, RetryPolicy{}, config, clockwork.NewRealClock())

	started := time.Now()
	_, err := client.Generate(context.Background(), "hello", ModelFast, WithTimeout(20*time.Millisecond))

	require.Error(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestClient_Generate_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{infer: func(ctx context.Context, req Request) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	_, err := client.Generate(ctx, "hello", ModelFast)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, backend.calls, 1)
	assert.Equal(t, 0, client.State()[ModelFast].Failures, "cancellation is not a model failure")
}

func TestClient_Generate_ThrottledNotCountedAsFailure(t *testing.T) {
	backend := &fakeBackend{}
	config := testConfig()
	config.RequestsPerMinute = 1
	client := NewClient(backend, fastRetry(), config, clockwork.NewRealClock())

	_, err := client.Generate(context.Background(), "first", ModelFast)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Generate(ctx, "second", ModelFast)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.NotErrorIs(t, err, ErrFatal)
	assert.NoError(t, ctx.Err(), "limiter refuses before the deadline passes")
	assert.Len(t, backend.calls, 1)
	assert.Equal(t, 0, client.State()[ModelFast].Failures)
}

func TestClient_Generate_UnknownClass(t *testing.T) {
	client := NewClient(&fakeBackend{}, fastRetry(), testConfig(), clockwork.NewRealClock())

	_, err := client.Generate(context.Background(), "hello", ModelClass("huge"))
	assert.ErrorIs(t, err, ErrFatal)
}

func TestClient_ConcurrentFailuresSwitchOnce(t *testing.T) {
	backend := &fakeBackend{
		infer:     failModels("qwen2.5:7b"),
		available: []string{"llama3.2", "phi3.5"},
	}
	client := NewClient(backend, fastRetry(), testConfig(), clockwork.NewRealClock())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Generate(context.Background(), "hello", ModelFast)
		}()
	}
	wg.Wait()

	assert.Equal(t, "llama3.2", client.State()[ModelFast].Current)
	for _, model := range backend.modelsCalled() {
		assert.NotEqual(t, "phi3.5", model)
	}
}
