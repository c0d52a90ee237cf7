package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/tools"
)

// Semaphores bounds concurrent exec-stage calls per node kind
// (AgentConcurrency, spec §4.5 step 2).
type Semaphores struct {
	byKind map[string]chan struct{}
}

// NewSemaphores builds one buffered channel per kind from the supplied
// concurrency limits.
func NewSemaphores(limits map[string]int) *Semaphores {
	s := &Semaphores{byKind: make(map[string]chan struct{}, len(limits))}
	for kind, n := range limits {
		if n <= 0 {
			n = 1
		}
		s.byKind[kind] = make(chan struct{}, n)
	}
	return s
}

func (s *Semaphores) acquire(ctx context.Context, kind string) error {
	ch, ok := s.byKind[kind]
	if !ok {
		return nil
	}
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphores) release(kind string) {
	ch, ok := s.byKind[kind]
	if !ok {
		return
	}
	<-ch
}

// HTTPDoer is satisfied by *http.Client; tests substitute a fake.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Exec performs the side-effecting call for a ReadyToExecute staging entity
// under the kind's concurrency semaphore. A shadow-masked node performs no
// real I/O (spec §8 invariant 6); otherwise it issues an HTTP request,
// producing ExecutionResult{599, "timeout"} on deadline expiry rather than a
// silent drop (spec §4.5 step 2).
func Exec(ctx context.Context, pipeline *Pipeline, sem *Semaphores, kind string, client HTTPDoer, e ecs.Entity) {
	ready, ok := pipeline.Ready(e)
	if !ok {
		return
	}
	execCtx := ready.Context

	if execCtx.Shadow {
		if mock, masked := execCtx.ShadowMasks["http_client"]; masked {
			if mock.DelayMs > 0 {
				time.Sleep(time.Duration(mock.DelayMs) * time.Millisecond)
			}
			rawBody, _ := encodeMockBody(mock)
			pipeline.CompleteExec(e, ExecutionResult{Status: 200, RawBody: rawBody, Context: execCtx})
			return
		}
	}

	deadline := execCtx.Timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := sem.acquire(callCtx, kind); err != nil {
		pipeline.CompleteExec(e, ExecutionResult{Status: 599, RawBody: "timeout", Context: execCtx})
		return
	}
	defer sem.release(kind)

	status, body := doRequest(callCtx, client, execCtx)
	pipeline.CompleteExec(e, ExecutionResult{Status: status, RawBody: body, Context: execCtx})
}

func doRequest(ctx context.Context, client HTTPDoer, execCtx ExecutionContext) (int, string) {
	if execCtx.URL == "" {
		return 200, execCtx.Body
	}
	req, err := http.NewRequestWithContext(ctx, execCtx.Method, execCtx.URL, bytes.NewBufferString(execCtx.Body))
	if err != nil {
		return 599, "timeout"
	}
	for k, v := range execCtx.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 599, "timeout"
		}
		return 0, err.Error()
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func encodeMockBody(mock tools.ShadowMock) (string, error) {
	if s, ok := mock.ReturnValue.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(mock.ReturnValue)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
