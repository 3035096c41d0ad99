package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/leadforge/internal/domain/model"
)

// stubProvider answers from a fixed table and records the order of calls.
type stubProvider struct {
	mu      sync.Mutex
	results map[string]*VerifyResult
	calls   []string
}

func (s *stubProvider) Verify(_ context.Context, email string) (*VerifyResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, email)
	s.mu.Unlock()

	if r, ok := s.results[email]; ok {
		return r, nil
	}
	return nil, errors.New("provider unavailable")
}

// memTracker is an in-memory FormatTracker for tests.
type memTracker struct {
	mu     sync.Mutex
	counts map[string]map[string]int
}

func newMemTracker() *memTracker {
	return &memTracker{counts: map[string]map[string]int{}}
}

func (m *memTracker) RecordFormat(_ context.Context, domain, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[domain] == nil {
		m.counts[domain] = map[string]int{}
	}
	m.counts[domain][pattern]++
	return nil
}

func (m *memTracker) DominantFormat(_ context.Context, domain string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best, bestCount := "", 0
	for p, n := range m.counts[domain] {
		if n > bestCount {
			best, bestCount = p, n
		}
	}
	return best, nil
}

func testLead() model.Lead {
	return model.Lead{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   "Acme",
		Email:     "ada.lovelace@acme.com",
	}
}

func TestVerifier_ValidOnFirstTry(t *testing.T) {
	provider := &stubProvider{results: map[string]*VerifyResult{
		"ada.lovelace@acme.com": {Code: ResultCodeValid},
	}}
	tracker := newMemTracker()
	v := NewVerifier(provider, nil, tracker, nil)

	leads, err := v.VerifyLeads(context.Background(), []model.Lead{testLead()})
	require.NoError(t, err)
	require.Len(t, leads, 1)

	assert.Equal(t, model.VerifyStatusValid, leads[0].Status)
	assert.Equal(t, "ada.lovelace@acme.com", leads[0].VerifiedEmail)
	assert.Equal(t, 1, tracker.counts["acme.com"]["ada.lovelace"])
}

func TestVerifier_CatchAllOnFirstTry(t *testing.T) {
	provider := &stubProvider{results: map[string]*VerifyResult{
		"ada.lovelace@acme.com": {Code: ResultCodeCatchAll},
	}}
	v := NewVerifier(provider, nil, nil, nil)

	leads, err := v.VerifyLeads(context.Background(), []model.Lead{testLead()})
	require.NoError(t, err)

	assert.Equal(t, model.VerifyStatusCatchAll, leads[0].Status)
	assert.Equal(t, "ada.lovelace@acme.com", leads[0].VerifiedEmail)
	// Catch-all on the original guess stops the search.
	assert.Equal(t, []string{"ada.lovelace@acme.com"}, provider.calls)
}

func TestVerifier_FallbackCandidateVerifies(t *testing.T) {
	provider := &stubProvider{results: map[string]*VerifyResult{
		"ada.lovelace@acme.com": {Code: 0},
		"ada@acme.com":          {Code: ResultCodeValid},
	}}
	tracker := newMemTracker()
	v := NewVerifier(provider, nil, tracker, nil)

	leads, err := v.VerifyLeads(context.Background(), []model.Lead{testLead()})
	require.NoError(t, err)

	assert.Equal(t, model.VerifyStatusValid, leads[0].Status)
	assert.Equal(t, "ada@acme.com", leads[0].VerifiedEmail)
	assert.Equal(t, 1, tracker.counts["acme.com"]["ada"])
}

func TestVerifier_SkipsAlreadyCheckedCandidate(t *testing.T) {
	// The original guess equals the first.last fallback, so it must not be
	// verified twice.
	provider := &stubProvider{results: map[string]*VerifyResult{}}
	v := NewVerifier(provider, nil, nil, nil)

	_, err := v.VerifyLeads(context.Background(), []model.Lead{testLead()})
	require.NoError(t, err)

	count := 0
	for _, c := range provider.calls {
		if c == "ada.lovelace@acme.com" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestVerifier_UnverifiedFallsBackToFormatTable(t *testing.T) {
	provider := &stubProvider{results: map[string]*VerifyResult{}}
	formats := map[string]string{"acme.com": "{first_0}{last}"}
	tracker := newMemTracker()
	v := NewVerifier(provider, formats, tracker, nil)

	leads, err := v.VerifyLeads(context.Background(), []model.Lead{testLead()})
	require.NoError(t, err)

	assert.Equal(t, model.VerifyStatusUnverified, leads[0].Status)
	assert.Equal(t, "alovelace@acme.com", leads[0].VerifiedEmail)
	assert.Equal(t, 1, tracker.counts["acme.com"]["alovelace"])
}

func TestVerifier_FallbackCatchAllBeatsFormatGuess(t *testing.T) {
	// A catch-all hit on a fallback candidate is a real provider answer, so
	// it is kept instead of being replaced by an unverified format guess.
	provider := &stubProvider{results: map[string]*VerifyResult{
		"ada.lovelace@acme.com": {Code: 0},
		"ada@acme.com":          {Code: ResultCodeCatchAll},
	}}
	formats := map[string]string{"acme.com": "{first_0}{last}"}
	v := NewVerifier(provider, formats, nil, nil)

	leads, err := v.VerifyLeads(context.Background(), []model.Lead{testLead()})
	require.NoError(t, err)

	assert.Equal(t, model.VerifyStatusCatchAll, leads[0].Status)
	assert.Equal(t, "ada@acme.com", leads[0].VerifiedEmail)
}

func TestVerifier_InvalidWhenNothingVerifies(t *testing.T) {
	provider := &stubProvider{results: map[string]*VerifyResult{}}
	v := NewVerifier(provider, nil, nil, nil)

	leads, err := v.VerifyLeads(context.Background(), []model.Lead{testLead()})
	require.NoError(t, err)

	assert.Equal(t, model.VerifyStatusInvalid, leads[0].Status)
	assert.Empty(t, leads[0].VerifiedEmail)
}

func TestVerifier_PreservesInputOrder(t *testing.T) {
	results := map[string]*VerifyResult{}
	var leads []model.Lead
	for i := 0; i < 20; i++ {
		lead := model.Lead{
			FirstName: fmt.Sprintf("User%02d", i),
			LastName:  "Test",
			Company:   "Acme",
		}
		lead.Email = fmt.Sprintf("user%02d.test@acme.com", i)
		results[lead.Email] = &VerifyResult{Code: ResultCodeValid}
		leads = append(leads, lead)
	}

	v := NewVerifier(&stubProvider{results: results}, nil, nil, nil, WithParallelism(5))
	out, err := v.VerifyLeads(context.Background(), leads)
	require.NoError(t, err)
	require.Len(t, out, 20)

	for i, lead := range out {
		assert.Equal(t, fmt.Sprintf("user%02d.test@acme.com", i), lead.VerifiedEmail)
	}
}

func TestHTTPProvider_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("api"))
		assert.Equal(t, "ada@acme.com", r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultcode": 1, "subresult": "ok"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPProviderConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)

	result, err := p.Verify(context.Background(), "ada@acme.com")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Code)
	assert.Equal(t, "ok", result.SubResult)
}

func TestHTTPProvider_CustomEnvelopeMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {"verdict": 2}}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPProviderConfig{
		BaseURL:  srv.URL,
		CodeExpr: "data.verdict",
	})
	require.NoError(t, err)

	result, err := p.Verify(context.Background(), "ada@acme.com")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Code)
}

func TestHTTPProvider_RetriesThenSucceeds(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"resultcode": 1}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, Retries: 3})
	require.NoError(t, err)

	result, err := p.Verify(context.Background(), "ada@acme.com")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Code)
	assert.Equal(t, 3, attempts)
}

func TestHTTPProvider_ExhaustsRetries(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, Retries: 2})
	require.NoError(t, err)

	_, err = p.Verify(context.Background(), "ada@acme.com")
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestHTTPProvider_InvalidCodeExpr(t *testing.T) {
	_, err := NewHTTPProvider(HTTPProviderConfig{
		BaseURL:  "http://localhost",
		CodeExpr: "not[a valid expr",
	})
	require.Error(t, err)
}

// memCache is a minimal in-memory CacheRepository for tests.
type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemCache() *memCache { return &memCache{items: map[string][]byte{}} }

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memCache) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

func TestCachingProvider_ServesFromCache(t *testing.T) {
	provider := &stubProvider{results: map[string]*VerifyResult{
		"ada@acme.com": {Code: ResultCodeValid},
	}}
	cache := newMemCache()
	caching := NewCachingProvider(provider, cache, time.Minute)

	for i := 0; i < 3; i++ {
		result, err := caching.Verify(context.Background(), "ada@acme.com")
		require.NoError(t, err)
		assert.Equal(t, ResultCodeValid, result.Code)
	}

	assert.Len(t, provider.calls, 1)
}

func TestCachingProvider_DoesNotCacheErrors(t *testing.T) {
	provider := &stubProvider{results: map[string]*VerifyResult{}}
	caching := NewCachingProvider(provider, newMemCache(), time.Minute)

	_, err := caching.Verify(context.Background(), "nope@acme.com")
	require.Error(t, err)
	_, err = caching.Verify(context.Background(), "nope@acme.com")
	require.Error(t, err)

	assert.Len(t, provider.calls, 2)
}
