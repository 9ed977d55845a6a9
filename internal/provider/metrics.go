package provider

import (
	"github.com/rcrowley/go-metrics"
)

// Metric names recorded by the pipeline stages.
const (
	MetricSourceFetches     = "source.fetches"
	MetricSourceFailures    = "source.failures"
	MetricRateLimitAdmitted = "ratelimit.admitted"
	MetricRateLimitRejected = "ratelimit.rejected"
	MetricCacheHits         = "cache.hits"
	MetricCacheMisses       = "cache.misses"
	MetricCacheEvictions    = "cache.evictions"
	MetricCacheExpirations  = "cache.expirations"
	MetricCacheSize         = "cache.size"
)

func counter(r metrics.Registry, name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, r)
}

// Snapshot flattens the counters and gauges in r into name/value pairs.
func Snapshot(r metrics.Registry) map[string]int64 {
	out := make(map[string]int64)
	if r == nil {
		return out
	}
	r.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case interface{ Count() int64 }:
			out[name] = v.Count()
		case interface{ Value() int64 }:
			out[name] = v.Value()
		}
	})
	return out
}
