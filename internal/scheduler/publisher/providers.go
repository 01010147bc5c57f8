package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
)

// Provider names as stored on social_accounts.provider.
const (
	ProviderTwitter   = "twitter"
	ProviderFacebook  = "facebook"
	ProviderInstagram = "instagram"
	ProviderLinkedIn  = "linkedin"
	ProviderTikTok    = "tiktok"
)

// apiClient is the shared HTTP plumbing behind every provider adapter.
// Adapters differ only in endpoint, payload shape, and response parsing.
type apiClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func newAPIClient(logger *slog.Logger) apiClient {
	return apiClient{
		httpClient: &http.Client{Timeout: DefaultCallTimeout},
		logger:     logger,
	}
}

// postJSON sends an authorized JSON request and decodes the response body
// into out. Any transport or non-2xx failure comes back as a retryable
// publish error for the named provider.
func (c apiClient) postJSON(ctx context.Context, provider, endpoint, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.NewPublishError(provider, fmt.Errorf("failed to encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.NewPublishError(provider, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewPublishError(provider, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Provider API call",
		slog.String("provider", provider),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.NewPublishError(provider, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewPublishError(provider, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

// TwitterPublisher posts tweets through the v2 API.
type TwitterPublisher struct {
	apiClient
	endpoint string
}

func NewTwitterPublisher(logger *slog.Logger) *TwitterPublisher {
	return &TwitterPublisher{
		apiClient: newAPIClient(logger),
		endpoint:  "https://api.twitter.com/2/tweets",
	}
}

func (p *TwitterPublisher) Provider() string { return ProviderTwitter }

func (p *TwitterPublisher) Publish(ctx context.Context, req *PublishRequest) (*Result, error) {
	payload := map[string]any{
		"text": req.Content,
	}
	if len(req.MediaURLs) > 0 {
		payload["media"] = map[string]any{"urls": req.MediaURLs, "type": req.MediaType}
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.postJSON(ctx, ProviderTwitter, p.endpoint, req.AccessToken, payload, &out); err != nil {
		return nil, err
	}

	return &Result{Success: true, ExternalPostID: out.Data.ID}, nil
}

// FacebookPublisher posts to a page feed through the Graph API.
type FacebookPublisher struct {
	apiClient
	endpoint string
}

func NewFacebookPublisher(logger *slog.Logger) *FacebookPublisher {
	return &FacebookPublisher{
		apiClient: newAPIClient(logger),
		endpoint:  "https://graph.facebook.com/v19.0/me/feed",
	}
}

func (p *FacebookPublisher) Provider() string { return ProviderFacebook }

func (p *FacebookPublisher) Publish(ctx context.Context, req *PublishRequest) (*Result, error) {
	payload := map[string]any{
		"message": req.Content,
	}
	if len(req.MediaURLs) > 0 {
		payload["attached_media"] = req.MediaURLs
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := p.postJSON(ctx, ProviderFacebook, p.endpoint, req.AccessToken, payload, &out); err != nil {
		return nil, err
	}

	return &Result{Success: true, ExternalPostID: out.ID}, nil
}

// InstagramPublisher publishes through the Graph API content publishing
// surface. Media containers are created upstream by the media pipeline;
// this adapter only submits the publish step.
type InstagramPublisher struct {
	apiClient
	endpoint string
}

func NewInstagramPublisher(logger *slog.Logger) *InstagramPublisher {
	return &InstagramPublisher{
		apiClient: newAPIClient(logger),
		endpoint:  "https://graph.facebook.com/v19.0/me/media_publish",
	}
}

func (p *InstagramPublisher) Provider() string { return ProviderInstagram }

func (p *InstagramPublisher) Publish(ctx context.Context, req *PublishRequest) (*Result, error) {
	payload := map[string]any{
		"caption":    req.Content,
		"media_urls": req.MediaURLs,
		"media_type": req.MediaType,
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := p.postJSON(ctx, ProviderInstagram, p.endpoint, req.AccessToken, payload, &out); err != nil {
		return nil, err
	}

	return &Result{Success: true, ExternalPostID: out.ID}, nil
}

// LinkedInPublisher posts UGC shares.
type LinkedInPublisher struct {
	apiClient
	endpoint string
}

func NewLinkedInPublisher(logger *slog.Logger) *LinkedInPublisher {
	return &LinkedInPublisher{
		apiClient: newAPIClient(logger),
		endpoint:  "https://api.linkedin.com/v2/ugcPosts",
	}
}

func (p *LinkedInPublisher) Provider() string { return ProviderLinkedIn }

func (p *LinkedInPublisher) Publish(ctx context.Context, req *PublishRequest) (*Result, error) {
	payload := map[string]any{
		"commentary": req.Content,
		"media":      req.MediaURLs,
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := p.postJSON(ctx, ProviderLinkedIn, p.endpoint, req.AccessToken, payload, &out); err != nil {
		return nil, err
	}

	return &Result{Success: true, ExternalPostID: out.ID}, nil
}

// TikTokPublisher submits video posts through the content posting API.
type TikTokPublisher struct {
	apiClient
	endpoint string
}

func NewTikTokPublisher(logger *slog.Logger) *TikTokPublisher {
	return &TikTokPublisher{
		apiClient: newAPIClient(logger),
		endpoint:  "https://open.tiktokapis.com/v2/post/publish/video/init/",
	}
}

func (p *TikTokPublisher) Provider() string { return ProviderTikTok }

func (p *TikTokPublisher) Publish(ctx context.Context, req *PublishRequest) (*Result, error) {
	if req.MediaType != domain.MediaTypeVideo || len(req.MediaURLs) == 0 {
		return &Result{Success: false, Error: "tiktok requires a video attachment"}, nil
	}

	payload := map[string]any{
		"post_info": map[string]any{
			"title": req.Content,
		},
		"source_info": map[string]any{
			"source":    "PULL_FROM_URL",
			"video_url": req.MediaURLs[0],
		},
	}

	var out struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
	}
	if err := p.postJSON(ctx, ProviderTikTok, p.endpoint, req.AccessToken, payload, &out); err != nil {
		return nil, err
	}

	return &Result{Success: true, ExternalPostID: out.Data.PublishID}, nil
}
