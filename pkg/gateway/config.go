package gateway

import (
	"github.com/levenlabs/go-lflag"
)

// Configured sets up a Gateway over the given upstream.
func Configured(upstream Upstream) *Gateway {
	maxDays := lflag.Int("summary-max-days", DefaultMaxDays, "Maximum number of days a summary request may span")
	concurrency := lflag.Int("summary-concurrency", DefaultConcurrency, "Number of days fetched in parallel for a summary")

	var g Gateway

	lflag.Do(func() {
		g = *New(upstream, *maxDays, *concurrency)
	})

	return &g
}
