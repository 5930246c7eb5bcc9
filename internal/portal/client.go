// Package portal 封装对各新闻站点接入接口的调用。
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/newsrelay/internal/logging"
	"github.com/newsrelay/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// 操作名，用于日志与指标。
const (
	OpCreate        = "create"
	OpUpdate        = "update"
	OpDelete        = "delete"
	OpFetch         = "fetch"
	OpCheckUsername = "check_username"
)

// Endpoint 标识一个站点。
type Endpoint struct {
	ID      uint
	Name    string
	BaseURL string
	APIKey  string
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options 为客户端的超时、限流与熔断参数。
type Options struct {
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
}

// DefaultOptions 返回默认参数：写 90s、读 60s。
func DefaultOptions() Options {
	return Options{
		WriteTimeout:      90 * time.Second,
		ReadTimeout:       60 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

// Client 调用站点接口，每个站点独立限流与熔断。
type Client struct {
	http   httpDoer
	opts   Options
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
	limiters map[string]*rate.Limiter
}

// NewClient 构造 Client。
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = def.BreakerTimeout
	}
	return &Client{
		http:     &http.Client{},
		opts:     opts,
		now:      time.Now,
		logger:   logging.Component("portal"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetHTTPClient 替换底层 HTTP 客户端，主要用于测试。
func (c *Client) SetHTTPClient(client httpDoer) {
	if client == nil {
		client = &http.Client{}
	}
	c.http = client
}

// SetClock 替换时间来源，用于固定默认日期。
func (c *Client) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Create 调用 POST /api/create-news/ 发布稿件。
func (c *Client) Create(ctx context.Context, ep Endpoint, article Article) Result {
	body, contentType, err := c.multipartBody(article.createFields(c.now()), article.ImagePath)
	if err != nil {
		return Result{Message: err.Error()}
	}
	res := c.do(ctx, ep, OpCreate, http.MethodPost, "/api/create-news/", body, contentType, c.opts.WriteTimeout, http.StatusOK, http.StatusCreated)
	if res.Success {
		res.RemoteID = idString(res.Data["id"])
	}
	return res
}

// Update 调用 PUT /api/update-news/{id}/ 更新已发布稿件。
func (c *Client) Update(ctx context.Context, ep Endpoint, remoteID string, article Article) Result {
	body, contentType, err := c.multipartBody(article.updateFields(c.now()), article.ImagePath)
	if err != nil {
		return Result{Message: err.Error()}
	}
	path := fmt.Sprintf("/api/update-news/%s/", url.PathEscape(remoteID))
	return c.do(ctx, ep, OpUpdate, http.MethodPut, path, body, contentType, c.opts.WriteTimeout, http.StatusOK, http.StatusCreated)
}

// Delete 调用 DELETE /api/delete-news/{id}/。
func (c *Client) Delete(ctx context.Context, ep Endpoint, remoteID string) Result {
	path := fmt.Sprintf("/api/delete-news/%s/", url.PathEscape(remoteID))
	return c.do(ctx, ep, OpDelete, http.MethodDelete, path, nil, "", c.opts.ReadTimeout, http.StatusOK, http.StatusNoContent)
}

// Fetch 调用 GET /api/news/{id}/ 读取站点上的稿件，成功时 Data 为站点返回的 data。
func (c *Client) Fetch(ctx context.Context, ep Endpoint, remoteID string) Result {
	path := fmt.Sprintf("/api/news/%s/", url.PathEscape(remoteID))
	res := c.do(ctx, ep, OpFetch, http.MethodGet, path, nil, "", c.opts.ReadTimeout, http.StatusOK, http.StatusCreated)
	if res.Success && res.Data == nil {
		res.Success = false
		res.Message = "portal did not return news data"
	}
	return res
}

// UserLookup 为 check-username 的结果。
type UserLookup struct {
	Found        bool
	PortalUserID string
}

// CheckUsername 调用 GET /api/check-username/?username= 查找站点账号。
func (c *Client) CheckUsername(ctx context.Context, ep Endpoint, username string) (UserLookup, Result) {
	path := "/api/check-username/?username=" + url.QueryEscape(username)
	res := c.do(ctx, ep, OpCheckUsername, http.MethodGet, path, nil, "", c.opts.ReadTimeout, http.StatusOK)
	if !res.Success || res.Data == nil {
		return UserLookup{}, res
	}
	return UserLookup{Found: true, PortalUserID: idString(res.Data["id"])}, res
}

func (c *Client) multipartBody(fields []formField, imagePath string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	if path := strings.TrimSpace(imagePath); path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			part, perr := writer.CreateFormFile("post_image", filepath.Base(path))
			if perr == nil {
				_, perr = io.Copy(part, file)
			}
			file.Close()
			if perr != nil {
				return nil, "", fmt.Errorf("attach image: %w", perr)
			}
		case errors.Is(err, os.ErrNotExist):
			c.logger.Warn().Str("path", path).Msg("image file missing, sending without image")
		default:
			return nil, "", fmt.Errorf("open image: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, ep Endpoint, op, method, path string, body []byte, contentType string, timeout time.Duration, okStatus ...int) Result {
	start := c.now()
	res := c.send(ctx, ep, op, method, path, body, contentType, timeout, okStatus)

	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	metrics.GatewayRequests.WithLabelValues(ep.Name, op, outcome).Inc()
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	event := c.logger.Info()
	if !res.Success {
		event = c.logger.Warn()
	}
	event.Str("portal", ep.Name).Str("op", op).Int("status", res.StatusCode).
		Dur("elapsed", time.Since(start)).Msg("portal call finished")
	return res
}

func (c *Client) send(ctx context.Context, ep Endpoint, op, method, path string, body []byte, contentType string, timeout time.Duration, okStatus []int) Result {
	base := strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/")
	if base == "" {
		return Result{Message: "portal base url is empty"}
	}

	if err := c.limiter(ep).Wait(ctx); err != nil {
		return Result{Message: fmt.Sprintf("rate limit wait: %v", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, base+path, reader)
	if err != nil {
		return Result{Message: fmt.Sprintf("build %s request: %v", op, err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "newsrelay/1.0")
	if key := strings.TrimSpace(ep.APIKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.breaker(ep).Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, fmt.Errorf("portal server error %d", resp.StatusCode)
		}
		return resp, nil
	})
	if resp == nil {
		if err == nil {
			err = errors.New("empty response")
		}
		return Result{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return Result{StatusCode: resp.StatusCode, Message: fmt.Sprintf("read response: %v", readErr)}
	}

	res := Result{StatusCode: resp.StatusCode, Message: string(raw)}
	for _, code := range okStatus {
		if resp.StatusCode == code {
			res.Success = true
			break
		}
	}
	if res.Success {
		res.Data = trustedData(decodeEnvelope(raw))
	}
	if res.Message == "" {
		res.Message = resp.Status
	}
	return res
}

func (c *Client) limiter(ep Endpoint) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[ep.Name]; ok {
		return l
	}
	limit := rate.Inf
	if c.opts.RequestsPerSecond > 0 {
		limit = rate.Limit(c.opts.RequestsPerSecond)
	}
	l := rate.NewLimiter(limit, c.opts.Burst)
	c.limiters[ep.Name] = l
	return l
}

func (c *Client) breaker(ep Endpoint) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[ep.Name]; ok {
		return cb
	}
	failures := c.opts.BreakerFailures
	name := ep.Name
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "portal-" + name,
		MaxRequests: 1,
		Timeout:     c.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			c.logger.Warn().Str("portal", name).Str("from", from.String()).Str("to", to.String()).
				Msg("portal circuit breaker state changed")
		},
	})
	c.breakers[name] = cb
	return cb
}
