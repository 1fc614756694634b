// Package notify tells the control plane that a stream went off-air.
//
// Every target is called in its own goroutine with a fixed retry budget.
// Failures are logged and counted, never returned: the RTMP teardown path
// does not wait for these calls.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/lem-onair/lemonair-streaming/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	TargetService     = "service"
	TargetTranscoding = "transcoding"
)

type Config struct {
	ServiceHost     string
	TranscodingHost string
	TranscodingPort int
	Retries         int
	RetryDelay      time.Duration
	Timeout         time.Duration
}

type target struct {
	name   string
	method string
	url    func(domain.StreamName) string
}

type Client struct {
	ctx        context.Context
	cfg        Config
	httpClient *http.Client
	targets    []target
	metrics    *metrics.Metrics
	wg         conc.WaitGroup
}

// New builds a client whose in-flight calls stop when ctx is done.
// Targets with an empty host are skipped.
func New(ctx context.Context, cfg Config, m *metrics.Metrics) *Client {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	c := &Client{
		ctx:        ctx,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
	}
	if cfg.ServiceHost != "" {
		base := withScheme(cfg.ServiceHost)
		c.targets = append(c.targets, target{
			name:   TargetService,
			method: http.MethodPost,
			url: func(name domain.StreamName) string {
				return base + "/api/streams/" + url.PathEscape(string(name)) + "/offair"
			},
		})
	}
	if cfg.TranscodingHost != "" {
		base := withScheme(cfg.TranscodingHost)
		if cfg.TranscodingPort > 0 {
			base += ":" + strconv.Itoa(cfg.TranscodingPort)
		}
		c.targets = append(c.targets, target{
			name:   TargetTranscoding,
			method: http.MethodGet,
			url: func(name domain.StreamName) string {
				return base + "/transcode/" + url.PathEscape(string(name)) + "/offair"
			},
		})
	}
	return c
}

func withScheme(host string) string {
	host = strings.TrimRight(host, "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}

// OffAir notifies every target concurrently and returns immediately.
func (c *Client) OffAir(name domain.StreamName) {
	for _, t := range c.targets {
		c.wg.Go(func() {
			ok := c.call(t, name)
			c.metrics.OffAirNotified(t.name, ok)
		})
	}
}

// Wait blocks until all notifications started so far are done.
func (c *Client) Wait() {
	c.wg.Wait()
}

// call returns the boolean the target answered, or false once every attempt
// failed.
func (c *Client) call(t target, name domain.StreamName) bool {
	logger := log.With().
		Str("module", "notify").
		Str("target", t.name).
		Str("stream", string(name)).
		Logger()

	u := t.url(name)
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-c.ctx.Done():
				logger.Warn().Err(c.ctx.Err()).Msg("off-air notification abandoned")
				return false
			}
		}
		ok, err := c.do(t.method, u)
		if err == nil {
			logger.Info().Bool("result", ok).Int("attempt", attempt+1).Msg("off-air notification sent")
			return ok
		}
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("off-air notification failed")
	}
	logger.Error().Int("attempts", c.cfg.Retries+1).Msg("off-air notification gave up, falling back to false")
	return false
}

func (c *Client) do(method, u string) (bool, error) {
	req, err := http.NewRequestWithContext(c.ctx, method, u, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
	ok, err := strconv.ParseBool(strings.TrimSpace(string(body)))
	if err != nil {
		return false, fmt.Errorf("parse body %q: %w", body, err)
	}
	return ok, nil
}
