package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
)

// PublishRequest carries everything a provider adapter needs to publish
// one post to one connected account.
type PublishRequest struct {
	Content     string
	MediaURLs   []string
	MediaType   string
	AccessToken string
	Metadata    map[string]string
}

// Result is the structured outcome of a publish call. Adapters translate
// every provider failure into a Result or an error value; nothing panics
// across this boundary.
type Result struct {
	Success        bool
	ExternalPostID string
	Error          string
}

// Publisher is the capability contract every provider variant honors.
type Publisher interface {
	Provider() string
	Publish(ctx context.Context, req *PublishRequest) (*Result, error)
}

// DefaultCallTimeout bounds a single publish call. A hanging provider is
// a client concern; the registry applies this outside the publish
// contract itself.
const DefaultCallTimeout = 30 * time.Second

// defaultProviderRate paces outbound calls per provider so a large run
// does not trip provider-side limiting.
var defaultProviderRate = rate.Limit(5) // calls per second

// Registry maps a social account's provider to its publisher. Lookup is a
// pure function of the provider field; every returned publisher is
// wrapped with per-call timeout and per-provider pacing.
type Registry struct {
	publishers map[string]Publisher
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRegistry creates a registry over the given publishers.
func NewRegistry(logger *slog.Logger, timeout time.Duration, publishers ...Publisher) *Registry {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	r := &Registry{
		publishers: make(map[string]Publisher, len(publishers)),
		timeout:    timeout,
		logger:     logger,
	}

	for _, p := range publishers {
		r.publishers[p.Provider()] = &pacedPublisher{
			inner:   p,
			limiter: rate.NewLimiter(defaultProviderRate, 1),
			timeout: timeout,
		}
	}

	return r
}

// NewDefaultRegistry wires every supported provider adapter.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	return NewRegistry(logger, DefaultCallTimeout,
		NewTwitterPublisher(logger),
		NewFacebookPublisher(logger),
		NewInstagramPublisher(logger),
		NewLinkedInPublisher(logger),
		NewTikTokPublisher(logger),
	)
}

// For returns the publisher for a provider.
func (r *Registry) For(provider string) (Publisher, error) {
	p, ok := r.publishers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}
	return p, nil
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	return names
}

// pacedPublisher applies the registry's boundary policy around an adapter.
type pacedPublisher struct {
	inner   Publisher
	limiter *rate.Limiter
	timeout time.Duration
}

func (p *pacedPublisher) Provider() string {
	return p.inner.Provider()
}

func (p *pacedPublisher) Publish(ctx context.Context, req *PublishRequest) (*Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, domain.NewPublishError(p.inner.Provider(), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.inner.Publish(callCtx, req)
	if err != nil {
		if domain.IsRetryable(err) {
			return nil, err
		}
		return nil, domain.NewPublishError(p.inner.Provider(), err)
	}
	return res, nil
}
