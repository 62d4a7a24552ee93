package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pders01/neows/internal/config"
	"github.com/pders01/neows/internal/debuglog"
	"github.com/pders01/neows/internal/storage"
	"github.com/pders01/neows/internal/validation"
)

const (
	headerRateLimit          = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
)

// StatusError is returned for a non-2xx upstream response. URL never
// contains the API key.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d (%s)", e.Code, e.URL)
}

// Fetcher talks to the NeoWs feed and lookup endpoints.
type Fetcher struct {
	client       *http.Client
	parser       *Parser
	baseURL      string
	apiKey       string
	userAgent    string
	maxBodyBytes int64
	urlValidator *validation.BaseURLValidator
}

func NewFetcher(cfg *config.Config) *Fetcher {
	timeout := cfg.API.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.API.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 16 << 20
	}
	userAgent := cfg.API.UserAgent
	if userAgent == "" {
		userAgent = "neows/1.0"
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		parser:       NewParser(),
		baseURL:      cfg.API.BaseURL,
		apiKey:       cfg.API.Key,
		userAgent:    userAgent,
		maxBodyBytes: maxBody,
		urlValidator: cfg.API.URLValidator(),
	}
}

// FetchFeed requests the single-day feed for date (YYYY-MM-DD). The rate
// limit headers are returned and logged whatever the status.
func (f *Fetcher) FetchFeed(ctx context.Context, date string) (*storage.FeedResponse, storage.RateLimit, error) {
	if err := validation.ValidateDate(date); err != nil {
		return nil, storage.RateLimit{}, err
	}

	query := url.Values{}
	query.Set("start_date", date)
	query.Set("end_date", date)

	body, rl, err := f.get(ctx, "/feed", query, debuglog.Fields{"endpoint": "feed", "date": date})
	if err != nil {
		return nil, rl, err
	}

	resp, err := f.parser.ParseFeed(bytes.NewReader(body))
	if err != nil {
		return nil, rl, err
	}
	return resp, rl, nil
}

// FetchDetail requests the lookup record of one object.
func (f *Fetcher) FetchDetail(ctx context.Context, id string) (*storage.NEODetail, storage.RateLimit, error) {
	if err := validation.ValidateNEOID(id); err != nil {
		return nil, storage.RateLimit{}, err
	}

	body, rl, err := f.get(ctx, "/neo/"+url.PathEscape(id), url.Values{}, debuglog.Fields{"endpoint": "neo", "neo_id": id})
	if err != nil {
		return nil, rl, err
	}

	detail, err := f.parser.ParseDetail(bytes.NewReader(body))
	if err != nil {
		return nil, rl, err
	}
	return detail, rl, nil
}

func (f *Fetcher) get(ctx context.Context, path string, query url.Values, fields debuglog.Fields) ([]byte, storage.RateLimit, error) {
	validator := f.urlValidator

	base, err := validator.ValidateAndNormalize(f.baseURL)
	if err != nil {
		return nil, storage.RateLimit{}, fmt.Errorf("invalid base URL: %w", err)
	}

	u, err := url.Parse(base + path)
	if err != nil {
		return nil, storage.RateLimit{}, fmt.Errorf("building URL: %w", err)
	}
	display := redactedURL(u, query)
	query.Set("api_key", f.apiKey)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, storage.RateLimit{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		// *url.Error embeds the full request URL, key included
		return nil, storage.RateLimit{}, fmt.Errorf("fetching %s: %w", display, unwrapURLError(err))
	}
	defer resp.Body.Close()

	rl := rateLimitFrom(resp.Header)
	fields["limit"] = rl.Limit
	fields["remaining"] = rl.Remaining
	fields["status"] = resp.StatusCode
	debuglog.WithFields(fields).Infof("NASA API rate limit")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, rl, &StatusError{Code: resp.StatusCode, URL: display}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, rl, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, rl, fmt.Errorf("response from %s exceeds %d bytes", display, f.maxBodyBytes)
	}

	return body, rl, nil
}

func rateLimitFrom(h http.Header) storage.RateLimit {
	return storage.RateLimit{
		Limit:      h.Get(headerRateLimit),
		Remaining:  h.Get(headerRateLimitRemaining),
		ObservedAt: time.Now().UTC(),
	}
}

func redactedURL(u *url.URL, query url.Values) string {
	cp := *u
	cp.RawQuery = query.Encode()
	return cp.String()
}

func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
