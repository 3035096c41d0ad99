package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/sync/errgroup"

	"github.com/leadforge/leadforge/internal/core"
	"github.com/leadforge/leadforge/internal/domain/model"
)

// Provider result codes, matching the MillionVerifier-style API.
const (
	ResultCodeValid    = 1
	ResultCodeCatchAll = 2
)

const defaultVerifyParallelism = 10

// VerifyResult is one provider answer for a candidate address.
type VerifyResult struct {
	Code      int    `json:"resultcode"`
	SubResult string `json:"subresult,omitempty"`
}

// Provider answers whether a single address is deliverable.
type Provider interface {
	Verify(ctx context.Context, email string) (*VerifyResult, error)
}

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	BaseURL string
	APIKey  string
	// CodeExpr is a JMESPath expression selecting the result code from the
	// provider's response envelope. Defaults to "resultcode".
	CodeExpr string
	// SubResultExpr selects the optional sub-result string.
	SubResultExpr string
	Retries       int
	Timeout       time.Duration
	Client        *http.Client
	Logger        *slog.Logger
}

// HTTPProvider verifies addresses against an HTTP API of the form
// GET <base>?api=<key>&email=<addr>, retrying failed calls. The response
// envelope is mapped through JMESPath so providers with different field
// names can be plugged in via config.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	code    jmespath.JMESPath
	sub     jmespath.JMESPath
	retries int
	logger  *slog.Logger
}

// NewHTTPProvider validates the config and compiles the response mapping.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("verifier base URL is required")
	}
	if cfg.CodeExpr == "" {
		cfg.CodeExpr = "resultcode"
	}
	if cfg.SubResultExpr == "" {
		cfg.SubResultExpr = "subresult"
	}

	code, err := jmespath.Compile(cfg.CodeExpr)
	if err != nil {
		return nil, fmt.Errorf("compile code expression %q: %w", cfg.CodeExpr, err)
	}
	sub, err := jmespath.Compile(cfg.SubResultExpr)
	if err != nil {
		return nil, fmt.Errorf("compile subresult expression %q: %w", cfg.SubResultExpr, err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPProvider{
		cfg:     cfg,
		client:  client,
		code:    code,
		sub:     sub,
		retries: retries,
		logger:  logger.With("component", "pipeline.verifier"),
	}, nil
}

// Verify calls the provider, retrying transport and decode failures up to the
// configured attempt budget.
func (p *HTTPProvider) Verify(ctx context.Context, email string) (*VerifyResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		result, err := p.verifyOnce(ctx, email)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < p.retries {
			p.logger.WarnContext(ctx, "verification attempt failed, retrying",
				"email", email, "attempt", attempt, "error", err)
		}
	}
	return nil, fmt.Errorf("verify %s after %d attempts: %w", email, p.retries, lastErr)
}

func (p *HTTPProvider) verifyOnce(ctx context.Context, email string) (*VerifyResult, error) {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("api", p.cfg.APIKey)
	q.Set("email", email)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var envelope any
	if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil {
		return nil, fmt.Errorf("decode provider response: %w", decodeErr)
	}

	codeVal, err := p.code.Search(envelope)
	if err != nil {
		return nil, fmt.Errorf("map result code: %w", err)
	}
	code, ok := asInt(codeVal)
	if !ok {
		return nil, fmt.Errorf("result code %v is not numeric", codeVal)
	}

	result := &VerifyResult{Code: code}
	if subVal, subErr := p.sub.Search(envelope); subErr == nil {
		if s, isStr := subVal.(string); isStr {
			result.SubResult = s
		}
	}
	return result, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// CachingProvider wraps a Provider with a byte-oriented cache so repeated
// candidates across jobs do not burn provider quota.
type CachingProvider struct {
	inner Provider
	cache core.CacheRepository
	ttl   time.Duration
}

const verifyCachePrefix = "leadforge:verify:"

// NewCachingProvider wraps inner with cache. ttl bounds staleness.
func NewCachingProvider(inner Provider, cache core.CacheRepository, ttl time.Duration) *CachingProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachingProvider{inner: inner, cache: cache, ttl: ttl}
}

// Verify serves from cache when possible, otherwise delegates and stores.
func (c *CachingProvider) Verify(ctx context.Context, email string) (*VerifyResult, error) {
	key := verifyCachePrefix + strings.ToLower(email)
	if cached, err := c.cache.Get(ctx, key); err == nil && cached != nil {
		var result VerifyResult
		if unmarshalErr := json.Unmarshal(cached, &result); unmarshalErr == nil {
			return &result, nil
		}
	}

	result, err := c.inner.Verify(ctx, email)
	if err != nil {
		return nil, err
	}

	if encoded, marshalErr := json.Marshal(result); marshalErr == nil {
		// Cache errors are not worth failing a verification over.
		_ = c.cache.Set(ctx, key, encoded, c.ttl)
	}
	return result, nil
}

// Verifier runs candidate verification for a batch of leads with bounded
// parallelism and records confirmed local-part patterns per domain.
type Verifier struct {
	provider    Provider
	formats     map[string]string
	tracker     core.FormatTracker
	parallelism int
	logger      *slog.Logger
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithParallelism bounds concurrent provider calls.
func WithParallelism(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.parallelism = n
		}
	}
}

// NewVerifier builds a Verifier. tracker may be nil when no format frequency
// store is configured.
func NewVerifier(provider Provider, formats map[string]string, tracker core.FormatTracker, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Verifier{
		provider:    provider,
		formats:     formats,
		tracker:     tracker,
		parallelism: defaultVerifyParallelism,
		logger:      logger.With("component", "pipeline.verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyLeads verifies every lead concurrently and returns them in input
// order with Status and VerifiedEmail filled in. Provider failures downgrade
// a lead to Invalid rather than failing the batch; only context cancellation
// aborts.
func (v *Verifier) VerifyLeads(ctx context.Context, leads []model.Lead) ([]model.Lead, error) {
	out := make([]model.Lead, len(leads))
	copy(out, leads)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.parallelism)

	for i := range out {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = v.verifyLead(gctx, out[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *Verifier) verifyLead(ctx context.Context, lead model.Lead) model.Lead {
	lead.Status = model.VerifyStatusInvalid
	lead.VerifiedEmail = ""

	domain := lead.Domain()
	checked := map[string]struct{}{lead.Email: {}}

	if result, err := v.provider.Verify(ctx, lead.Email); err == nil {
		switch result.Code {
		case ResultCodeValid:
			lead.Status = model.VerifyStatusValid
			lead.VerifiedEmail = lead.Email
			v.recordFormat(ctx, domain, lead.Email)
			return lead
		case ResultCodeCatchAll:
			lead.Status = model.VerifyStatusCatchAll
			lead.VerifiedEmail = lead.Email
			return lead
		}
	} else {
		v.logger.WarnContext(ctx, "verification failed", "email", lead.Email, "error", err)
	}

	for _, candidate := range fallbackCandidates(lead, domain) {
		if _, done := checked[candidate]; done {
			continue
		}
		checked[candidate] = struct{}{}

		result, err := v.provider.Verify(ctx, candidate)
		if err != nil {
			v.logger.WarnContext(ctx, "verification failed", "email", candidate, "error", err)
			continue
		}
		switch result.Code {
		case ResultCodeValid:
			lead.Status = model.VerifyStatusValid
			lead.VerifiedEmail = candidate
			v.recordFormat(ctx, domain, candidate)
			return lead
		case ResultCodeCatchAll:
			// Keep looking for a definitive hit but remember the catch-all.
			lead.Status = model.VerifyStatusCatchAll
			lead.VerifiedEmail = candidate
		}
	}

	if lead.Status == model.VerifyStatusCatchAll {
		return lead
	}

	// Nothing verified; fall back to the known format table if the domain
	// has one and mark the guess as unverified.
	if pattern, ok := v.formats[domain]; ok {
		guessed := expandPattern(pattern,
			strings.ToLower(lead.FirstName),
			strings.ToLower(lead.LastName),
			domain)
		lead.Status = model.VerifyStatusUnverified
		lead.VerifiedEmail = guessed
		v.recordFormat(ctx, domain, guessed)
	}
	return lead
}

// fallbackCandidates mirrors the candidate order the pipeline has always
// tried: first@, first.last@, first_last@, f.last@.
func fallbackCandidates(lead model.Lead, domain string) []string {
	first := strings.ToLower(lead.FirstName)
	last := strings.ToLower(lead.LastName)
	if first == "" || last == "" || domain == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s@%s", first, domain),
		fmt.Sprintf("%s.%s@%s", first, last, domain),
		fmt.Sprintf("%s_%s@%s", first, last, domain),
		fmt.Sprintf("%s.%s@%s", first[:1], last, domain),
	}
}

func (v *Verifier) recordFormat(ctx context.Context, domain, email string) {
	if v.tracker == nil || domain == "" {
		return
	}
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return
	}
	if err := v.tracker.RecordFormat(ctx, domain, local); err != nil {
		v.logger.WarnContext(ctx, "failed to record email format", "domain", domain, "error", err)
	}
}
