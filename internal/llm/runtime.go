// Package llm drives a local text-generation model through a runner
// sidecar: a small HTTP process on localhost that holds the model
// weights and tokenizer (picking the fastest available device) and
// exposes two endpoints, POST /load and POST /generate. The runtime
// owns the lifecycle and serializes device access; everything above it
// deals only in prompts and completions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// State is the runtime lifecycle. A failed load is permanent for the
// process lifetime; callers degrade instead of retrying.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotLoaded is returned by Generate whenever the runtime is not
// Ready. It is a value, not a panic, so callers can short-circuit.
var ErrNotLoaded = errors.New("model not loaded")

// LoadError records a failed model load. It is sticky: once stored,
// every later Load call returns the same error.
type LoadError struct {
	Model string
	Err   error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load model %s: %v", e.Model, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// GenerateError records a failed generation call. Local to the call;
// the same runtime stays usable.
type GenerateError struct {
	Model string
	Err   error
}

func (e *GenerateError) Error() string { return fmt.Sprintf("generate with %s: %v", e.Model, e.Err) }
func (e *GenerateError) Unwrap() error { return e.Err }

const selfTestPrompt = "Hello, how are you?"

// Runtime is the single owner of the loaded model. One in-flight
// generation at a time: the runner owns one compute device, so
// concurrent callers queue on a weighted semaphore.
type Runtime struct {
	baseURL string
	model   string
	httpc   *http.Client
	sem     *semaphore.Weighted

	state atomic.Int32

	mu         sync.Mutex
	padTokenID *int64
	eosTokenID int64
	loadErr    error
}

// NewRuntime creates an unloaded runtime talking to the runner at
// baseURL for the given model identifier.
func NewRuntime(baseURL, model string) *Runtime {
	return &Runtime{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// No client timeout: generation is model-bound and may take
		// seconds. Callers bound latency through ctx.
		httpc: &http.Client{},
		sem:   semaphore.NewWeighted(1),
	}
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Model returns the configured model identifier.
func (r *Runtime) Model() string {
	return r.model
}

type loadRequest struct {
	Model string `json:"model"`
}

type loadResponse struct {
	PadTokenID *int64 `json:"pad_token_id"`
	EOSTokenID int64  `json:"eos_token_id"`
}

// Load asks the runner to load model weights and tokenizer, then runs
// one self-test generation. Any failure leaves the runtime permanently
// Failed. Safe to call more than once: Ready is a no-op, Failed
// returns the stored error.
func (r *Runtime) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateReady:
		return nil
	case StateFailed:
		return r.loadErr
	}
	r.state.Store(int32(StateLoading))

	if err := r.load(ctx); err != nil {
		r.loadErr = &LoadError{Model: r.model, Err: err}
		r.state.Store(int32(StateFailed))
		slog.ErrorContext(ctx, "Model load failed", "model", r.model, "error", err)
		return r.loadErr
	}

	r.state.Store(int32(StateReady))
	slog.InfoContext(ctx, "Model loaded", "model", r.model, "has_pad_token", r.padTokenID != nil)
	return nil
}

func (r *Runtime) load(ctx context.Context) error {
	var resp loadResponse
	if err := r.post(ctx, "/load", loadRequest{Model: r.model}, &resp); err != nil {
		return err
	}
	r.padTokenID = resp.PadTokenID
	r.eosTokenID = resp.EOSTokenID

	// One throwaway generation proves the full tokenize-decode path
	// before the runtime reports Ready.
	text, err := r.generate(ctx, selfTestPrompt, 50, DefaultSampling())
	if err != nil {
		return fmt.Errorf("self-test generation: %w", err)
	}
	slog.DebugContext(ctx, "Self-test generation succeeded", "model", r.model, "chars", len(text))
	return nil
}

// Generate produces a completion for prompt with at most maxNewTokens
// new tokens under the given sampling configuration. The returned text
// has the prompt prefix removed and blank lines collapsed. The call
// blocks for a device-bound duration; bound it with ctx if needed.
func (r *Runtime) Generate(ctx context.Context, prompt string, maxNewTokens int, cfg SamplingConfig) (string, error) {
	if r.State() != StateReady {
		return "", fmt.Errorf("generator runtime is %s: %w", r.State(), ErrNotLoaded)
	}
	if err := cfg.Validate(); err != nil {
		return "", &GenerateError{Model: r.model, Err: fmt.Errorf("sampling config: %w", err)}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", &GenerateError{Model: r.model, Err: err}
	}
	defer r.sem.Release(1)

	text, err := r.generate(ctx, prompt, maxNewTokens, cfg)
	if err != nil {
		return "", &GenerateError{Model: r.model, Err: err}
	}
	return text, nil
}

type generateRequest struct {
	Model              string  `json:"model"`
	Prompt             string  `json:"prompt"`
	MaxNewTokens       int     `json:"max_new_tokens"`
	NumReturnSequences int     `json:"num_return_sequences"`
	Temperature        float64 `json:"temperature"`
	TopP               float64 `json:"top_p"`
	TopK               int     `json:"top_k"`
	RepetitionPenalty  float64 `json:"repetition_penalty"`
	NoRepeatNGramSize  int     `json:"no_repeat_ngram_size"`
	DoSample           bool    `json:"do_sample"`
	PadTokenID         int64   `json:"pad_token_id"`
	EOSTokenID         int64   `json:"eos_token_id"`
}

type generateResponse struct {
	// Text is the full decoded sequence, prompt included, with
	// special tokens skipped.
	Text string `json:"text"`
}

func (r *Runtime) generate(ctx context.Context, prompt string, maxNewTokens int, cfg SamplingConfig) (string, error) {
	// The tokenizer's pad token when it has one, else its EOS token.
	// DialoGPT-style models define no pad token at all, which would
	// otherwise fail inside the runner.
	padToken := r.eosTokenID
	if r.padTokenID != nil {
		padToken = *r.padTokenID
	}

	req := generateRequest{
		Model:              r.model,
		Prompt:             prompt,
		MaxNewTokens:       maxNewTokens,
		NumReturnSequences: 1,
		Temperature:        cfg.Temperature,
		TopP:               cfg.TopP,
		TopK:               cfg.TopK,
		RepetitionPenalty:  cfg.RepetitionPenalty,
		NoRepeatNGramSize:  cfg.NoRepeatNGram,
		DoSample:           !cfg.Deterministic,
		PadTokenID:         padToken,
		EOSTokenID:         r.eosTokenID,
	}

	var resp generateResponse
	if err := r.post(ctx, "/generate", req, &resp); err != nil {
		return "", err
	}

	// Strip the prompt prefix by length, never by pattern match: the
	// decoded prompt can differ from the submitted text only after
	// the prompt boundary.
	text := resp.Text
	if len(text) >= len(prompt) {
		text = text[len(prompt):]
	}
	return normalizeCompletion(text), nil
}

// normalizeCompletion trims the completion and collapses runs of blank
// lines down to a single blank line. Single blank lines survive: they
// are the section boundaries the extractor splits on.
func normalizeCompletion(s string) string {
	s = strings.TrimSpace(s)
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	s = strings.TrimPrefix(s, "\n")
	return strings.TrimSpace(s)
}

func (r *Runtime) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("call runner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runner %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode runner response: %w", err)
	}
	return nil
}
