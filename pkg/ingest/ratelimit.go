package ingest

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter gates outbound requests to one upstream service.
type Limiter interface {
	Wait(ctx context.Context) error
}

// ServiceRate describes one upstream's published limit.
type ServiceRate struct {
	PerSecond float64
	Burst     int
}

// defaultServiceRates are the published or observed limits for the
// sources we pull from. Unlisted services get a conservative 1 rps.
var defaultServiceRates = map[string]ServiceRate{
	"sec_edgar":      {PerSecond: 10, Burst: 10},
	"irs_990":        {PerSecond: 5, Burst: 5},
	"cra_charities":  {PerSecond: 2, Burst: 2},
	"ised_corps":     {PerSecond: 2, Burst: 2},
	"meta_ads":       {PerSecond: 200.0 / 3600.0, Burst: 5}, // 200 calls/hour
	"google_ads":     {PerSecond: 1, Burst: 2},
	"lobbying":       {PerSecond: 2, Burst: 2},
	"elections":      {PerSecond: 2, Burst: 2},
	"littlesis":      {PerSecond: 1, Burst: 1},
	"opencorporates": {PerSecond: 0.5, Burst: 1},
	"whois":          {PerSecond: 1, Burst: 2},
	"dns":            {PerSecond: 20, Burst: 40},
}

// LimiterRegistry hands out one limiter per service name. Local
// limiters are process-wide token buckets; a shared Redis limiter can
// be layered in front when several workers pull the same source.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
	rates    map[string]ServiceRate
	shared   *SharedLimiter
}

// NewLimiterRegistry builds a registry with the default service rates,
// optionally fronted by a shared Redis limiter (nil to skip).
func NewLimiterRegistry(shared *SharedLimiter) *LimiterRegistry {
	rates := make(map[string]ServiceRate, len(defaultServiceRates))
	for k, v := range defaultServiceRates {
		rates[k] = v
	}
	return &LimiterRegistry{
		limiters: make(map[string]Limiter),
		rates:    rates,
		shared:   shared,
	}
}

// SetRate overrides the rate for a service before first use.
func (r *LimiterRegistry) SetRate(service string, sr ServiceRate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[service] = sr
	delete(r.limiters, service)
}

// For returns the limiter for a service, creating it on first use.
func (r *LimiterRegistry) For(service string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[service]; ok {
		return lim
	}
	sr, ok := r.rates[service]
	if !ok {
		sr = ServiceRate{PerSecond: 1, Burst: 1}
	}
	local := rate.NewLimiter(rate.Limit(sr.PerSecond), sr.Burst)
	var lim Limiter = localLimiter{local}
	if r.shared != nil {
		lim = stackedLimiter{shared: r.shared.For(service, sr), local: local}
	}
	r.limiters[service] = lim
	return lim
}

type localLimiter struct {
	l *rate.Limiter
}

func (l localLimiter) Wait(ctx context.Context) error { return l.l.Wait(ctx) }

// stackedLimiter consults the fleet-wide budget first, then the local
// bucket smooths bursts within this process.
type stackedLimiter struct {
	shared Limiter
	local  *rate.Limiter
}

func (s stackedLimiter) Wait(ctx context.Context) error {
	if err := s.shared.Wait(ctx); err != nil {
		return err
	}
	return s.local.Wait(ctx)
}
