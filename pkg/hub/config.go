package hub

import (
	"github.com/levenlabs/go-lflag"
)

// ConfiguredPoller sets up the poller feeding h.
func ConfiguredPoller(h *Hub, source Source, soc SOCSource) *Poller {
	interval := lflag.Duration("hub-poll-interval", DefaultPollInterval, "How often subscribed devices are polled for real-time data")
	socInterval := lflag.Duration("hub-soc-interval", DefaultSOCInterval, "How often subscribed devices are polled for SOC history")

	var p Poller

	lflag.Do(func() {
		p = *NewPoller(h, source, soc, *interval, *socInterval)
	})

	return &p
}
