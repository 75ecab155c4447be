package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal) }

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Message record cache lookups by outcome.",
	},
	[]string{"cache", "result"}, // cache="message", result="hit"|"miss"|"error"
)

func IncCacheRequest(cacheName, outcome string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(outcome)).Inc()
}
