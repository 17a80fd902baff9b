package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/pixelnet"
)

// TokenPath is the token exchange endpoint, relative to the API base URL.
const TokenPath = "/api/auth/gettoken"

const (
	defaultFetchTimeout = 10 * time.Second
	defaultFetchRate    = 20 // requests per second
	maxResponseBytes    = 64 << 10
)

// ErrExchangeRejected is returned when the token service answered but did not
// hand out a token.
var ErrExchangeRejected = errors.New("token exchange rejected")

// ExchangeError carries the errorType reported by the token service.
type ExchangeError struct {
	AccountID  uint32
	StatusCode int
	ErrorType  string
}

func (e *ExchangeError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("%s: account %d: %s", ErrExchangeRejected, e.AccountID, e.ErrorType)
	}
	return fmt.Sprintf("%s: account %d: http %d", ErrExchangeRejected, e.AccountID, e.StatusCode)
}

func (e *ExchangeError) Unwrap() error {
	return ErrExchangeRejected
}

type exchangeRequest struct {
	UID       uint32 `json:"uid"`
	AccessKey string `json:"access_key"`
}

type exchangeResponse struct {
	Data *struct {
		Token     string `json:"token"`
		ErrorType string `json:"errorType"`
	} `json:"data"`
	ErrorType string `json:"errorType"`
}

// Fetcher exchanges access credentials for tokens over HTTP.
type Fetcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the HTTP client used for exchanges.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithRateLimit caps exchange requests per second. A limit <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) FetcherOption {
	return func(f *Fetcher) {
		if perSecond <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a fetcher for the token service at baseURL.
func NewFetcher(baseURL string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultFetchTimeout},
		limiter: rate.NewLimiter(defaultFetchRate, defaultFetchRate),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch exchanges one credential for a token.
func (f *Fetcher) Fetch(ctx context.Context, cred pixelnet.Credential) (pixelnet.Token, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return pixelnet.Token{}, err
	}

	body, err := json.Marshal(exchangeRequest{UID: cred.AccountID, AccessKey: cred.Secret})
	if err != nil {
		return pixelnet.Token{}, fmt.Errorf("encode exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+TokenPath, bytes.NewReader(body))
	if err != nil {
		return pixelnet.Token{}, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return pixelnet.Token{}, fmt.Errorf("exchange account %d: %w", cred.AccountID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return pixelnet.Token{}, &ExchangeError{AccountID: cred.AccountID, StatusCode: resp.StatusCode}
	}

	var out exchangeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return pixelnet.Token{}, fmt.Errorf("decode exchange response for account %d: %w", cred.AccountID, err)
	}

	if out.Data == nil || out.Data.Token == "" {
		errType := out.ErrorType
		if out.Data != nil && out.Data.ErrorType != "" {
			errType = out.Data.ErrorType
		}
		if errType == "" {
			errType = "UNKNOWN"
		}
		return pixelnet.Token{}, &ExchangeError{AccountID: cred.AccountID, StatusCode: resp.StatusCode, ErrorType: errType}
	}

	return Parse(cred.AccountID, out.Data.Token)
}

// FetchAll exchanges every credential concurrently. Tokens that were
// exchanged successfully are returned in credential order; failures are
// logged and skipped. Returns pixelnet.ErrNoTokens, joined with every
// failure, if no exchange succeeded.
func (f *Fetcher) FetchAll(ctx context.Context, creds []pixelnet.Credential) ([]pixelnet.Token, error) {
	type result struct {
		tok pixelnet.Token
		err error
	}

	results := make([]result, len(creds))
	var wg sync.WaitGroup
	for i, cred := range creds {
		wg.Add(1)
		go func(i int, cred pixelnet.Credential) {
			defer wg.Done()
			tok, err := f.Fetch(ctx, cred)
			results[i] = result{tok: tok, err: err}
		}(i, cred)
	}
	wg.Wait()

	tokens := make([]pixelnet.Token, 0, len(creds))
	var errs []error
	for i, r := range results {
		if r.err != nil {
			f.logger.Warn("token exchange failed",
				zap.Uint32("account_id", creds[i].AccountID),
				zap.Error(r.err),
			)
			errs = append(errs, r.err)
			continue
		}
		tokens = append(tokens, r.tok)
	}

	f.logger.Info("token exchange finished",
		zap.Int("requested", len(creds)),
		zap.Int("obtained", len(tokens)),
	)

	if len(tokens) == 0 {
		return nil, errors.Join(append([]error{pixelnet.ErrNoTokens}, errs...)...)
	}
	return tokens, nil
}
