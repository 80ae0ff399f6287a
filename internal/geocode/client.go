// Package geocode turns coordinates into display addresses using public
// reverse-geocoding services, tried in order.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"agri-trace-api-server/config"
	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/metrics"
)

// ErrNoAddress means no provider produced a usable address.
var ErrNoAddress = errors.New("no address for location")

type Options struct {
	Timeout   time.Duration
	UserAgent string
	CacheSize int
	CacheTTL  time.Duration
}

type Client struct {
	http      *resty.Client
	providers []Provider
	cache     *expirable.LRU[string, string]
	group     singleflight.Group
	logger    *zap.Logger
}

// New builds the default provider chain from configuration. A disabled
// config yields a client with no providers.
func New(cfg config.GeocodeConfig, logger *zap.Logger) *Client {
	var providers []Provider
	if cfg.Enabled {
		if cfg.BigDataCloud != "" {
			providers = append(providers, BigDataCloud(cfg.BigDataCloud))
		}
		if cfg.MapsCo != "" {
			providers = append(providers, MapsCo(cfg.MapsCo, cfg.MapsCoAPIKey))
		}
		if cfg.Nominatim != "" {
			providers = append(providers, Nominatim(cfg.Nominatim))
		}
	}
	return NewWithProviders(providers, Options{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	}, logger)
}

func NewWithProviders(providers []Provider, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "AgriChain/1.0"
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	httpClient := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json")
	return &Client{
		http:      httpClient,
		providers: providers,
		cache:     expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		logger:    logger,
	}
}

// Enabled reports whether any provider is configured.
func (c *Client) Enabled() bool { return c != nil && len(c.providers) > 0 }

// Reverse returns the first usable address. Concurrent lookups of the same
// point share one upstream round.
func (c *Client) Reverse(ctx context.Context, p geo.GeoPoint) (string, error) {
	if !c.Enabled() {
		return "", ErrNoAddress
	}
	key := p.String()
	if addr, ok := c.cache.Get(key); ok {
		return addr, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		addr, err := c.lookup(ctx, p)
		if err != nil {
			return "", err
		}
		c.cache.Add(key, addr)
		return addr, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) lookup(ctx context.Context, p geo.GeoPoint) (string, error) {
	var errs []error
	for _, prov := range c.providers {
		addr, err := c.ask(ctx, prov, p)
		metrics.GeocodeLookups.WithLabelValues(prov.Name, metrics.Outcome(err)).Inc()
		if err == nil {
			return addr, nil
		}
		c.logger.Debug("geocoding provider failed", zap.String("provider", prov.Name), zap.String("location", p.String()), zap.Error(err))
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", ErrNoAddress, errors.Join(errs...))
}

func (c *Client) ask(ctx context.Context, prov Provider, p geo.GeoPoint) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(prov.Params(p)).
		Get(prov.URL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", prov.Name, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%s: status %d", prov.Name, resp.StatusCode())
	}
	addr, err := prov.Extract(resp.Body())
	if err != nil {
		return "", fmt.Errorf("%s: decode: %w", prov.Name, err)
	}
	addr = strings.TrimSpace(addr)
	if addr == "" || addr == unknownAddress {
		return "", fmt.Errorf("%s: no usable address", prov.Name)
	}
	return addr, nil
}
