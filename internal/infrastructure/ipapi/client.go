// Package ipapi classifies network origins with the ip-api.com JSON endpoint.
package ipapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nexus-verify/internal/domain"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// fields selects status, message, country, isp, org, as, asname, mobile,
// proxy, hosting and timezone.
const fields = "66842623"

const defaultTimeout = 3 * time.Second

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
	ISP     string `json:"isp"`
	AS      string `json:"as"`
	Mobile  bool   `json:"mobile"`
	Proxy   bool   `json:"proxy"`
	Hosting bool   `json:"hosting"`
}

// Client stays under the free-tier budget with a local token bucket. When
// the bucket is empty it answers degraded instead of waiting.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
}

func NewClient(baseURL string, timeout time.Duration, perMinute int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if perMinute <= 0 {
		perMinute = 45
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
	}
}

// Classify looks up origin. Concurrent calls for one origin share a single
// upstream request, which is detached from any one caller's cancellation and
// bounded by the client timeout. A caller whose ctx ends stops waiting.
// Any failure wraps domain.ErrLookupDegraded.
func (c *Client) Classify(ctx context.Context, origin string) (domain.Classification, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(origin, func() (any, error) {
		return c.lookup(shared, origin)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Classification{}, res.Err
		}
		return res.Val.(domain.Classification), nil
	case <-ctx.Done():
		return domain.Classification{}, fmt.Errorf("ip-api: %v: %w", ctx.Err(), domain.ErrLookupDegraded)
	}
}

func (c *Client) lookup(ctx context.Context, origin string) (domain.Classification, error) {
	if !c.limiter.Allow() {
		return domain.Classification{}, fmt.Errorf("local rate budget exhausted: %w", domain.ErrLookupDegraded)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	endpoint := c.baseURL + "/json/" + url.PathEscape(origin) + "?fields=" + fields
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("build request: %v: %w", err, domain.ErrLookupDegraded)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("ip-api: %v: %w", err, domain.ErrLookupDegraded)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Classification{}, fmt.Errorf("ip-api status %d: %w", resp.StatusCode, domain.ErrLookupDegraded)
	}
	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Classification{}, fmt.Errorf("decode ip-api response: %v: %w", err, domain.ErrLookupDegraded)
	}
	if body.Status != "success" {
		return domain.Classification{}, fmt.Errorf("ip-api %s %q: %w", body.Status, body.Message, domain.ErrLookupDegraded)
	}
	return domain.Classification{
		Known:   true,
		Mobile:  body.Mobile,
		Proxy:   body.Proxy,
		Hosting: body.Hosting,
		Country: body.Country,
		ISP:     body.ISP,
		AS:      body.AS,
	}, nil
}
