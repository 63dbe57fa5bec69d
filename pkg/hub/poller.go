package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultSOCInterval  = 5 * time.Minute

	pollConcurrency = 8
)

// SOCSource returns a device's state-of-charge history for a day.
type SOCSource interface {
	SOCHistory(ctx context.Context, deviceID string, date time.Time) (types.SOCData, error)
}

// Poller periodically reads every subscribed device and broadcasts the
// results. Devices without subscribers are never read.
type Poller struct {
	hub         *Hub
	source      Source
	soc         SOCSource
	interval    time.Duration
	socInterval time.Duration
	cron        *cron.Cron
	now         func() time.Time
}

// NewPoller creates a poller. soc may be nil to disable SOC pushes.
func NewPoller(h *Hub, source Source, soc SOCSource, interval, socInterval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if socInterval <= 0 {
		socInterval = DefaultSOCInterval
	}
	return &Poller{
		hub:         h,
		source:      source,
		soc:         soc,
		interval:    interval,
		socInterval: socInterval,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:         time.Now,
	}
}

// Start schedules the polls. They run until Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), func() { p.PollRealTime(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule real-time poll: %w", err)
	}
	if p.soc != nil {
		if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.socInterval), func() { p.PollSOC(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule soc poll: %w", err)
		}
	}
	p.hub.OnSubscribe(func(s Subscriber, deviceID string) {
		go p.Prime(ctx, s, deviceID)
	})
	p.cron.Start()
	log.Ctx(ctx).InfoContext(ctx, "hub poller started", slog.Duration("interval", p.interval), slog.Duration("socInterval", p.socInterval))
	return nil
}

// Stop halts scheduling and waits for a running poll to finish.
func (p *Poller) Stop() {
	p.hub.OnSubscribe(nil)
	<-p.cron.Stop().Done()
}

// Prime sends the latest readings for deviceID to s alone, so a client that
// just subscribed does not wait for the next scheduled poll. Nothing is sent
// if s has moved on to another device by the time a read completes.
func (p *Poller) Prime(ctx context.Context, s Subscriber, deviceID string) {
	ctx, cancel := context.WithTimeout(log.WithDevice(ctx, deviceID), p.interval)
	defer cancel()

	sendIfCurrent := func(method string, payload interface{}) {
		if cur, ok := p.hub.Subscription(s.ID()); ok && cur == deviceID {
			p.hub.send(ctx, s, method, deviceID, payload)
		}
	}

	if rt, err := p.source.GetRealTimeData(ctx, deviceID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to prime real-time data", slog.Any("error", err))
	} else {
		sendIfCurrent(MethodRealTime, rt)
	}
	if cells, err := p.source.GetBatteryCells(ctx, deviceID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to prime battery cells", slog.Any("error", err))
	} else {
		sendIfCurrent(MethodCellData, cells)
	}
	if p.soc == nil {
		return
	}
	if soc, err := p.soc.SOCHistory(ctx, deviceID, p.now()); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to prime soc data", slog.Any("error", err))
	} else {
		sendIfCurrent(MethodSOC, soc)
	}
}

func (p *Poller) forEachDevice(ctx context.Context, fn func(ctx context.Context, deviceID string)) {
	devices := p.hub.Devices()
	if len(devices) == 0 {
		return
	}
	var eg errgroup.Group
	eg.SetLimit(pollConcurrency)
	for _, deviceID := range devices {
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(log.WithDevice(ctx, deviceID), p.interval)
			defer cancel()
			fn(ctx, deviceID)
			return nil
		})
	}
	_ = eg.Wait()
}

// PollRealTime reads real-time and cell data for every subscribed device.
func (p *Poller) PollRealTime(ctx context.Context) {
	p.forEachDevice(ctx, func(ctx context.Context, deviceID string) {
		rt, err := p.source.GetRealTimeData(ctx, deviceID)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to poll real-time data", slog.Any("error", err))
		} else {
			p.hub.BroadcastRealTime(ctx, deviceID, rt)
		}

		cells, err := p.source.GetBatteryCells(ctx, deviceID)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to poll battery cells", slog.Any("error", err))
			return
		}
		p.hub.BroadcastCellData(ctx, deviceID, cells)
	})
}

// PollSOC reads today's SOC history for every subscribed device.
func (p *Poller) PollSOC(ctx context.Context) {
	if p.soc == nil {
		return
	}
	today := p.now()
	p.forEachDevice(ctx, func(ctx context.Context, deviceID string) {
		soc, err := p.soc.SOCHistory(ctx, deviceID, today)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to poll soc data", slog.Any("error", err))
			return
		}
		p.hub.BroadcastSOC(ctx, deviceID, soc)
	})
}
