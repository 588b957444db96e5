// Package scheduler runs the verifier over a batch of credentials, either
// one at a time in input order or across a bounded pool of workers.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/metrics"
	"github.com/SeanNg93/Gmail-app-password-tester/verifier"
)

// Verifier checks one credential.
type Verifier interface {
	Verify(ctx context.Context, cred input.Credential) verifier.Result
}

// Options configure a run.
type Options struct {
	// Concurrency caps parallel verifications. Values below 1 mean 1.
	Concurrency int
	// Sequential forces input-order processing regardless of Concurrency.
	Sequential bool
	// Cooldown is waited after a result whose probes both succeeded,
	// unless it was the last one. Zero disables it.
	Cooldown time.Duration

	// OnDispatch is called before a credential is verified in sequential
	// mode.
	OnDispatch func(cred input.Credential)
	// OnCooldown is called before each cooldown wait.
	OnCooldown func(d time.Duration)
}

// Sink receives results. Calls are serialized: never two at once.
type Sink func(result verifier.Result)

// Scheduler dispatches verifications.
type Scheduler struct {
	verifier Verifier
	opts     Options
}

// New creates a Scheduler.
func New(v Verifier, opts Options) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scheduler{verifier: v, opts: opts}
}

// IsSequential reports whether a batch of n credentials runs in sequential
// mode: when requested, when the worker budget is one, or when there is at
// most one credential.
func (s *Scheduler) IsSequential(n int) bool {
	return s.opts.Sequential || s.opts.Concurrency <= 1 || n <= 1
}

// Workers returns the effective worker count for a batch of n credentials.
func (s *Scheduler) Workers(n int) int {
	if s.IsSequential(n) {
		return 1
	}
	if s.opts.Concurrency > n {
		return n
	}
	return s.opts.Concurrency
}

// Run verifies every credential and hands each result to sink as soon as it
// is available. It returns all results in emission order: input order in
// sequential mode, completion order otherwise.
//
// Run never aborts early. If ctx is canceled the remaining credentials are
// still dispatched and fail fast inside their probes, so every credential
// yields exactly one result.
func (s *Scheduler) Run(ctx context.Context, creds []input.Credential, sink Sink) []verifier.Result {
	results := make([]verifier.Result, 0, len(creds))
	remaining := len(creds)
	metrics.CredentialsPending.Set(float64(remaining))

	emit := func(r verifier.Result) {
		results = append(results, r)
		remaining--
		metrics.CredentialsPending.Set(float64(remaining))
		metrics.CredentialsTotal.WithLabelValues(r.Outcome()).Inc()
		if sink != nil {
			sink(r)
		}
		if r.OK() && remaining > 0 {
			s.cooldown(ctx)
		}
	}

	if s.IsSequential(len(creds)) {
		for _, cred := range creds {
			if s.opts.OnDispatch != nil {
				s.opts.OnDispatch(cred)
			}
			emit(s.verify(ctx, cred))
		}
		return results
	}

	// Sized to the batch so workers never block on a collector that is
	// cooling down.
	out := make(chan verifier.Result, len(creds))
	sem := make(chan struct{}, s.Workers(len(creds)))
	var wg sync.WaitGroup

	go func() {
		for _, cred := range creds {
			sem <- struct{}{}
			wg.Add(1)
			go func(cred input.Credential) {
				defer wg.Done()
				defer func() { <-sem }()
				out <- s.verify(ctx, cred)
			}(cred)
		}
		wg.Wait()
		close(out)
	}()

	for r := range out {
		emit(r)
	}
	return results
}

// verify runs one credential, turning a panic into a failed result so the
// batch carries on.
func (s *Scheduler) verify(ctx context.Context, cred input.Credential) (result verifier.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Scheduler: recovered from panic during verification",
				"email", cred.Email, "panic", r, "stack", string(debug.Stack()))
			result = verifier.InternalFailure(cred.Email, r, time.Since(start))
		}
	}()
	return s.verifier.Verify(ctx, cred)
}

func (s *Scheduler) cooldown(ctx context.Context) {
	d := s.opts.Cooldown
	if d <= 0 {
		return
	}
	if s.opts.OnCooldown != nil {
		s.opts.OnCooldown(d)
	}

	start := time.Now()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	metrics.CooldownSeconds.Add(time.Since(start).Seconds())
}
