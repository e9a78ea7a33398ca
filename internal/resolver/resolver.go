package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mcq-autopilot/internal/cache"
	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/internal/metrics"
	"mcq-autopilot/pkg/logging/logging"
)

// DefaultTimeout bounds one inference call.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNoLetter means the inference response contained no A-D letter.
	ErrNoLetter = errors.New("resolver: no answer letter in response")
	// ErrNoInferer means no inference client is configured.
	ErrNoInferer = errors.New("resolver: no inference client")
)

// Source says where a resolved letter came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Resolution is the outcome of Resolve. Err holds the swallowed failure when
// Source is SourceFallback.
type Resolution struct {
	Letter      mcq.Letter        `json:"letter"`
	Source      Source            `json:"source"`
	Fingerprint cache.Fingerprint `json:"fingerprint"`
	Err         error             `json:"-"`
}

// Inferer sends a prompt to a remote model and returns its raw text.
type Inferer interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// untilInferer is implemented by inferers that can stop reading a streamed
// response once the caller has what it needs.
type untilInferer interface {
	InferUntil(ctx context.Context, prompt string, done func(string) bool) (string, error)
}

// Resolver turns a parsed question into an answer letter: cache first, then
// the inference client, then a uniformly random letter.
type Resolver struct {
	store   cache.Store
	inferer Inferer
	timeout time.Duration
	pick    func() int

	inflight singleflight.Group
}

type Option func(*Resolver)

// WithTimeout bounds each inference call. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRandom replaces the fallback source; pick must return 0..3.
func WithRandom(pick func() int) Option {
	return func(r *Resolver) {
		if pick != nil {
			r.pick = pick
		}
	}
}

func New(store cache.Store, inferer Inferer, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		inferer: inferer,
		timeout: DefaultTimeout,
		pick:    func() int { return rand.IntN(len(mcq.Letters)) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the answer letter for q. It never fails.
func (r *Resolver) Resolve(ctx context.Context, q mcq.Question) mcq.Letter {
	return r.ResolveDetailed(ctx, q).Letter
}

// ResolveDetailed is Resolve that also reports where the letter came from.
func (r *Resolver) ResolveDetailed(ctx context.Context, q mcq.Question) Resolution {
	start := time.Now()
	fp := cache.BuildFingerprint(q)
	ctx = logging.WithFields(ctx, zap.String("fingerprint", fp.String()))
	logger := logging.L(ctx)

	entry, hit, err := r.store.Get(ctx, fp)
	if err != nil {
		// Cache is best-effort; log and treat as miss.
		logger.Warn("answer_cache_get_error", zap.Error(err))
	}
	if hit && entry.Answer.Valid() {
		return r.finish(ctx, Resolution{Letter: entry.Answer, Source: SourceCache, Fingerprint: fp}, start)
	}

	// The shared call outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	ch := r.inflight.DoChan(string(fp), func() (any, error) {
		return r.resolveRemote(context.WithoutCancel(ctx), q, fp)
	})
	var (
		v      any
		shared bool
	)
	select {
	case out := <-ch:
		v, err, shared = out.Val, out.Err, out.Shared
	case <-ctx.Done():
		err = fmt.Errorf("resolver: %w", ctx.Err())
	}
	if err != nil {
		res := Resolution{Letter: r.fallback(), Source: SourceFallback, Fingerprint: fp, Err: err}
		logger.Warn("resolution_failed",
			zap.Error(err),
			zap.String("fallback_letter", res.Letter.String()),
		)
		return r.finish(ctx, res, start)
	}

	if shared {
		logger.Debug("resolution_shared_with_inflight_call")
	}
	return r.finish(ctx, Resolution{Letter: v.(mcq.Letter), Source: SourceRemote, Fingerprint: fp}, start)
}

func (r *Resolver) resolveRemote(ctx context.Context, q mcq.Question, fp cache.Fingerprint) (letter mcq.Letter, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("resolver: inference panicked: %v", p)
		}
	}()

	if r.inferer == nil {
		return "", ErrNoInferer
	}

	inferCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := BuildPrompt(q)
	var resp string
	if u, ok := r.inferer.(untilInferer); ok {
		resp, err = u.InferUntil(inferCtx, prompt, hasLetter)
	} else {
		resp, err = r.inferer.Infer(inferCtx, prompt)
	}
	if err != nil {
		return "", fmt.Errorf("resolver: infer: %w", err)
	}

	letter, ok := ExtractLetter(resp)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoLetter, truncate(resp, 80))
	}

	if err := r.store.Put(ctx, fp, letter); err != nil {
		logging.L(ctx).Warn("answer_cache_put_error", zap.Error(err))
	}
	return letter, nil
}

func (r *Resolver) fallback() mcq.Letter {
	i := r.pick()
	if i < 0 || i >= len(mcq.Letters) {
		i = 0
	}
	return mcq.Letters[i]
}

func (r *Resolver) finish(ctx context.Context, res Resolution, start time.Time) Resolution {
	metrics.ResolutionsTotal.WithLabelValues(string(res.Source)).Inc()
	logging.L(ctx).Info("resolution",
		zap.String("letter", res.Letter.String()),
		zap.String("source", string(res.Source)),
		zap.Duration("latency", time.Since(start)),
	)
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
