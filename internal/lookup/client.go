package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"warden/internal/domain"
	"warden/internal/engine"
	"warden/internal/geo"
	"warden/internal/support"
)

const (
	// DefaultEndpoint is the quota key charged per lookup.
	DefaultEndpoint = "check"

	maxResponseBytes = 1 << 20

	DefaultBlockThreshold = 75
	DefaultTrustThreshold = 25
)

// ErrQuotaExhausted is returned when the daily budget for the endpoint is
// spent. Callers decide whether to fail open or defer the lookup.
var ErrQuotaExhausted = errors.New("reputation lookup quota exhausted")

// Result is one reputation verdict for an address.
type Result struct {
	IP    string
	Score int
	Meta  domain.ReputationMeta
}

// Client queries an external reputation API, spending the engine's daily
// quota for every call.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	endpoint       string
	blockThreshold int
	trustThreshold int
	engine         *engine.Engine
	resolver       *geo.Resolver
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithGeoResolver backfills country/ISP metadata from local GeoLite
// databases when the provider response leaves those fields empty.
func WithGeoResolver(resolver *geo.Resolver) Option {
	return func(c *Client) {
		c.resolver = resolver
	}
}

func WithThresholds(block, trust int) Option {
	return func(c *Client) {
		if block > 0 {
			c.blockThreshold = block
		}
		if trust >= 0 {
			c.trustThreshold = trust
		}
	}
}

func NewClient(eng *engine.Engine, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseURL:        baseURL,
		apiKey:         apiKey,
		endpoint:       DefaultEndpoint,
		blockThreshold: DefaultBlockThreshold,
		trustThreshold: DefaultTrustThreshold,
		engine:         eng,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	Data struct {
		IPAddress            string `json:"ipAddress"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		ISP                  string `json:"isp"`
		Domain               string `json:"domain"`
		UsageType            string `json:"usageType"`
		IsTor                bool   `json:"isTor"`
		NumDistinctUsers     int    `json:"numDistinctUsers"`
	} `json:"data"`
}

// Check performs one reputation lookup, charging the daily quota.
func (c *Client) Check(ctx context.Context, ip string) (*Result, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return nil, fmt.Errorf("lookup: %q is not a valid IPv4 address", ip)
	}

	if decision := c.engine.CanUse(ctx, c.endpoint); !decision.Allowed {
		return nil, ErrQuotaExhausted
	}

	reqURL := fmt.Sprintf("%s/%s?ipAddress=%s&maxAgeInDays=90", c.baseURL, c.endpoint, url.QueryEscape(normalized))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup: build request: %w", err)
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup: execute request: %w", err)
	}
	defer resp.Body.Close()

	// The call reached the provider, so it counts against the budget
	// whatever the verdict.
	c.engine.RecordUsage(ctx, c.endpoint)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("lookup: unexpected status %d: %s", resp.StatusCode, body)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("lookup: read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("lookup: decode response: %w", err)
	}

	result := &Result{
		IP:    normalized,
		Score: parsed.Data.AbuseConfidenceScore,
		Meta: domain.ReputationMeta{
			Country:       parsed.Data.CountryCode,
			ISP:           parsed.Data.ISP,
			Domain:        parsed.Data.Domain,
			UsageType:     parsed.Data.UsageType,
			IsAnonymizer:  parsed.Data.IsTor,
			DistinctUsers: parsed.Data.NumDistinctUsers,
		},
	}
	if c.resolver != nil {
		c.resolver.Enrich(result.IP, &result.Meta)
	}
	return result, nil
}

// Evaluate looks the address up and writes the verdict back into the
// classification store: scores at or above the block threshold are blocked,
// scores at or below the trust threshold are trusted, everything between is
// provisional.
func (c *Client) Evaluate(ctx context.Context, ip string) (domain.Tier, error) {
	result, err := c.Check(ctx, ip)
	if err != nil {
		return "", err
	}

	switch {
	case result.Score >= c.blockThreshold:
		reason := fmt.Sprintf("reputation score %d", result.Score)
		if !c.engine.Block(ctx, result.IP, reason) {
			return "", fmt.Errorf("lookup: block %s rejected", result.IP)
		}
		log.Info("Reputation verdict: blocked", "ip", result.IP, "score", result.Score)
		return domain.TierBlocked, nil
	case result.Score <= c.trustThreshold:
		if !c.engine.AddTrusted(ctx, result.IP, result.Score, result.Meta.DistinctUsers, 0, result.Meta) {
			return "", fmt.Errorf("lookup: trust %s rejected", result.IP)
		}
		log.Info("Reputation verdict: trusted", "ip", result.IP, "score", result.Score)
		return domain.TierTrusted, nil
	default:
		if !c.engine.AddProvisional(ctx, result.IP, result.Score, result.Meta.DistinctUsers, 0, result.Meta) {
			return "", fmt.Errorf("lookup: flag %s rejected", result.IP)
		}
		log.Info("Reputation verdict: provisional", "ip", result.IP, "score", result.Score)
		return domain.TierProvisional, nil
	}
}
