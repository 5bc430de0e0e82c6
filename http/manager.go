package http //nolint:revive // intentional naming for domain clarity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Transport starts requests. Manager is the production implementation.
type Transport interface {
	// Start issues req and delivers its outcome to req.Callback on another
	// goroutine. The request belongs to list until its final callback returns.
	Start(list *RequestList, req *Request)
}

const (
	defaultMaxBodySize   = 64 << 20
	defaultBudgetRate    = 10
	defaultBudgetBurst   = 10
	defaultResendInitial = 250 * time.Millisecond
	defaultResendMax     = 10 * time.Second
)

// Manager issues requests with net/http, resending them as their callbacks
// ask and rate limiting each host unless a request opts out.
type Manager struct {
	client        *nethttp.Client
	logger        *slog.Logger
	budgetRate    rate.Limit
	budgetBurst   int
	resendInitial time.Duration
	resendMax     time.Duration
	maxBodySize   int64

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Option configures a Manager.
type Option func(*Manager)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDomainBudget sets the per-host request rate and burst applied to
// requests that do not ignore the domain budget.
func WithDomainBudget(r rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.budgetRate = r
		m.budgetBurst = burst
	}
}

// WithResendBackoff sets the exponential delay between resend attempts.
func WithResendBackoff(initial, maxDelay time.Duration) Option {
	return func(m *Manager) {
		m.resendInitial = initial
		m.resendMax = maxDelay
	}
}

// WithMaxBodySize bounds owned response bodies (default: 64 MiB).
func WithMaxBodySize(n int64) Option {
	return func(m *Manager) {
		m.maxBodySize = n
	}
}

// NewManager returns a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		client:        nethttp.DefaultClient,
		budgetRate:    defaultBudgetRate,
		budgetBurst:   defaultBudgetBurst,
		resendInitial: defaultResendInitial,
		resendMax:     defaultResendMax,
		maxBodySize:   defaultMaxBodySize,
		limiters:      make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = nethttp.DefaultClient
	}
	return m
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// Start implements Transport. If list is closed the callback runs
// immediately on the calling goroutine with ResultCanceled.
func (m *Manager) Start(list *RequestList, req *Request) {
	ctx, ok := list.acquire()
	if !ok {
		req.Callback(ResultCanceled, noStatusResponse(nil))
		return
	}
	go func() {
		defer list.release()
		m.run(ctx, req)
	}()
}

// run drives attempts of req until its callback is satisfied or ctx ends.
func (m *Manager) run(ctx context.Context, req *Request) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.resendInitial
	bo.MaxInterval = m.resendMax
	bo.Reset()

	for n := 1; ; n++ {
		result, resp := m.attempt(ctx, req)
		if result == ResultCanceled {
			req.Callback(ResultCanceled, resp)
			return
		}
		if req.Callback(result, resp) != CallbackNeedsResend {
			return
		}

		resend := req.clone()
		if req.PrepForResend != nil {
			req.PrepForResend(resp, req, resend)
		}
		delay := bo.NextBackOff()
		m.log().Debug("resending request",
			slog.String("url", resend.URL),
			slog.Int("attempt", n),
			slog.String("result", result.String()),
			slog.Int("status", resp.Status()),
			slog.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			req.Callback(ResultCanceled, noStatusResponse(nil))
			return
		case <-timer.C:
		}
		req = resend
	}
}

func (m *Manager) limiter(host string) *rate.Limiter {
	m.limitersMu.Lock()
	defer m.limitersMu.Unlock()
	l, ok := m.limiters[host]
	if !ok {
		l = rate.NewLimiter(m.budgetRate, m.budgetBurst)
		m.limiters[host] = l
	}
	return l
}

// attempt performs one HTTP exchange.
func (m *Manager) attempt(ctx context.Context, req *Request) (Result, *Response) {
	if err := ctx.Err(); err != nil {
		return ResultCanceled, noStatusResponse(nil)
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		m.log().Warn("invalid request url", slog.String("url", req.URL), slog.Any("error", err))
		return ResultFailure, noStatusResponse(nil)
	}
	if !req.IgnoreDomainRequestBudget {
		if err := m.limiter(u.Host).Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ResultCanceled, noStatusResponse(nil)
			}
			return ResultFailure, noStatusResponse(nil)
		}
	}

	hreq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, req.URL, nethttp.NoBody)
	if err != nil {
		return ResultFailure, noStatusResponse(nil)
	}
	for key, values := range req.Header {
		for _, value := range values {
			hreq.Header.Add(key, value)
		}
	}
	if hreq.Header.Get("Accept-Encoding") == "" {
		hreq.Header.Set("Accept-Encoding", "identity")
	}
	if req.hasRange {
		hreq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", req.rangeStart, req.rangeEnd))
	}

	resp, err := m.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return ResultCanceled, noStatusResponse(nil)
		}
		m.log().Debug("request failed", slog.String("url", req.URL), slog.Any("error", err))
		return ResultConnectionFailure, noStatusResponse(nil)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	out := &Response{status: resp.StatusCode, header: resp.Header}
	if final := resp.Request.URL.String(); final != req.URL {
		out.redirectURL = final
	}

	var readErr error
	if req.output != nil {
		bb := NewBoundedBuffer(req.output)
		_, readErr = io.Copy(bb, resp.Body)
		if errors.Is(readErr, ErrBufferFull) {
			readErr = nil
		}
		out.body = bb.Bytes()
		out.truncated = bb.Truncated()
	} else {
		limit := req.maxBodySize
		if limit <= 0 {
			limit = m.maxBodySize
		}
		var buf bytes.Buffer
		_, readErr = io.Copy(&buf, io.LimitReader(resp.Body, limit+1))
		if int64(buf.Len()) > limit {
			buf.Truncate(int(limit))
			out.truncated = true
		}
		out.body = buf.Bytes()
	}
	if readErr != nil {
		if ctx.Err() != nil {
			return ResultCanceled, noStatusResponse(out.body)
		}
		m.log().Debug("connection lost reading body",
			slog.String("url", req.URL),
			slog.Int("received", len(out.body)),
			slog.Any("error", readErr))
		return ResultConnectionFailure, noStatusResponse(out.body)
	}
	return ResultSuccess, out
}
