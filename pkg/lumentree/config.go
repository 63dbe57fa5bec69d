package lumentree

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/time/rate"

	"github.com/lumentreeinfo/lumentree/pkg/common"
	"github.com/lumentreeinfo/lumentree/pkg/storage"
	"github.com/lumentreeinfo/lumentree/pkg/tokens"
)

// Configured sets up the vendor API client and its token cache. Tokens are
// persisted to store when one is configured.
func Configured(store storage.TokenStore) *Client {
	baseURL := lflag.String("lumentree-base-url", DefaultBaseURL, "Base URL of the Lumentree vendor API")
	timeout := lflag.Duration("lumentree-timeout", 30*time.Second, "Timeout for each Lumentree API request")
	tokenTTL := lflag.Duration("lumentree-token-ttl", tokens.DefaultTTL, "How long an issued device token is reused before re-authenticating")
	cacheSize := lflag.Int("lumentree-token-cache-size", tokens.DefaultSize, "Maximum number of device tokens kept in memory")
	interval := lflag.Duration("lumentree-min-interval", 50*time.Millisecond, "Minimum spacing between Lumentree API requests (0 disables pacing)")
	burst := lflag.Int("lumentree-burst", 10, "Number of Lumentree API requests allowed to exceed the pacing")

	var c Client

	lflag.Do(func() {
		limit := rate.Inf
		if *interval > 0 {
			limit = rate.Every(*interval)
		}
		c = *NewClient(*baseURL, common.HTTPClient(*timeout), rate.NewLimiter(limit, *burst))

		cache, err := tokens.NewCache(&c, *tokenTTL, *cacheSize, store)
		if err != nil {
			panic(fmt.Sprintf("failed to create token cache: %v", err))
		}
		c.SetTokenSource(cache)
	})

	return &c
}

// ConfiguredWeb sets up the client for the lumentree.net chart endpoints.
func ConfiguredWeb() *Web {
	baseURL := lflag.String("lumentree-web-url", DefaultWebURL, "Base URL of the lumentree.net chart endpoints")
	monthlyTimeout := lflag.Duration("monthly-timeout", 30*time.Second, "Timeout for monthly chart requests")
	socTimeout := lflag.Duration("soc-timeout", 15*time.Second, "Timeout for SOC chart requests")

	var w Web

	lflag.Do(func() {
		w = *NewWeb(*baseURL, common.HTTPClient(*monthlyTimeout), common.HTTPClient(*socTimeout))
	})

	return &w
}
