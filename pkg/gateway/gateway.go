package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/lumentree"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

const (
	DefaultMaxDays     = 366
	DefaultConcurrency = 4
)

var (
	// ErrNoData means the day had no PV table upstream.
	ErrNoData = errors.New("no data found")
	// ErrInvalidRange means the summary range is reversed or too long.
	ErrInvalidRange = errors.New("invalid date range")
)

// Upstream is the subset of the vendor client the gateway needs.
type Upstream interface {
	GetDeviceInfo(ctx context.Context, deviceID string) (*types.DeviceInfo, error)
	GetPVDayData(ctx context.Context, deviceID string, date time.Time) (*types.Table, error)
	GetBatDayData(ctx context.Context, deviceID string, date time.Time) (*types.BatData, error)
	GetOtherDayData(ctx context.Context, deviceID string, date time.Time) (types.OtherDayData, error)
}

// Gateway merges the per-table upstream fetches for a device into the shapes
// served over HTTP.
type Gateway struct {
	upstream    Upstream
	maxDays     int
	concurrency int
	now         func() time.Time
}

// New creates a Gateway. Non-positive limits fall back to the defaults.
func New(upstream Upstream, maxDays, concurrency int) *Gateway {
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Gateway{
		upstream:    upstream,
		maxDays:     maxDays,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Now returns the gateway's current time.
func (g *Gateway) Now() time.Time {
	return g.now()
}

// fetchTables fetches every energy table for the day concurrently and waits
// for all of them to settle. A failed table is left nil.
func (g *Gateway) fetchTables(ctx context.Context, deviceID string, date time.Time, data *types.DeviceData) {
	var eg errgroup.Group

	eg.Go(func() error {
		pv, err := g.upstream.GetPVDayData(ctx, deviceID, date)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get pv data", slog.Any("error", err))
			return nil
		}
		data.PV = pv
		return nil
	})
	eg.Go(func() error {
		bat, err := g.upstream.GetBatDayData(ctx, deviceID, date)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get battery data", slog.Any("error", err))
			return nil
		}
		data.Bat = bat
		return nil
	})
	eg.Go(func() error {
		other, err := g.upstream.GetOtherDayData(ctx, deviceID, date)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get load data", slog.Any("error", err))
			return nil
		}
		data.EssentialLoad = other.EssentialLoad
		data.Grid = other.Grid
		data.Load = other.HomeLoad
		return nil
	})

	_ = eg.Wait()
}

// GetAllDeviceData fetches device metadata and every energy table for the day.
// Missing tables are left nil for the caller to default. If the metadata
// cannot be fetched the error wraps lumentree.ErrDeviceNotFound along with the
// underlying cause.
func (g *Gateway) GetAllDeviceData(ctx context.Context, deviceID string, date time.Time) (types.DeviceData, error) {
	ctx = log.WithDevice(ctx, deviceID)

	var (
		data    types.DeviceData
		infoErr error
		eg      errgroup.Group
	)
	eg.Go(func() error {
		data.DeviceInfo, infoErr = g.upstream.GetDeviceInfo(ctx, deviceID)
		return nil
	})
	eg.Go(func() error {
		g.fetchTables(ctx, deviceID, date, &data)
		return nil
	})
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return types.DeviceData{}, err
	}
	if data.DeviceInfo == nil {
		if infoErr == nil || errors.Is(infoErr, lumentree.ErrDeviceNotFound) {
			return types.DeviceData{}, lumentree.ErrDeviceNotFound
		}
		log.Ctx(ctx).WarnContext(ctx, "failed to get device info", slog.Any("error", infoErr))
		return types.DeviceData{}, fmt.Errorf("%w: %w", lumentree.ErrDeviceNotFound, infoErr)
	}
	return data, nil
}

// Today returns the energy totals for the current day in kWh.
func (g *Gateway) Today(ctx context.Context, deviceID string) (types.TodaySummary, error) {
	ctx = log.WithDevice(ctx, deviceID)
	today := g.now()

	var data types.DeviceData
	g.fetchTables(ctx, deviceID, today, &data)
	if err := ctx.Err(); err != nil {
		return types.TodaySummary{}, err
	}
	if data.PV == nil {
		return types.TodaySummary{}, ErrNoData
	}

	return types.TodaySummary{
		DeviceID:         deviceID,
		Date:             today.Format(types.DateLayout),
		SolarKwh:         data.PV.KWh(),
		LoadKwh:          data.Load.KWh(),
		GridKwh:          data.Grid.KWh(),
		BatChargeKwh:     data.Bat.ChargeKWh(),
		BatDischargeKwh:  data.Bat.DischargeKWh(),
		EssentialLoadKwh: data.EssentialLoad.KWh(),
	}, nil
}

// Days returns every calendar day from from to to inclusive.
func Days(from, to time.Time) []time.Time {
	from = truncateDay(from)
	to = truncateDay(to)
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Summary aggregates each day in [from, to] into daily and monthly totals.
// Days without PV data are skipped.
func (g *Gateway) Summary(ctx context.Context, deviceID string, from, to time.Time) (types.RangeSummary, error) {
	ctx = log.WithDevice(ctx, deviceID)

	from, to = truncateDay(from), truncateDay(to)
	if to.Before(from) {
		return types.RangeSummary{}, fmt.Errorf("%w: to is before from", ErrInvalidRange)
	}
	if last := from.AddDate(0, 0, g.maxDays-1); to.After(last) {
		return types.RangeSummary{}, fmt.Errorf("%w: range exceeds the maximum of %d days", ErrInvalidRange, g.maxDays)
	}
	days := Days(from, to)

	results := make([]*types.DaySummary, len(days))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, day := range days {
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			var data types.DeviceData
			g.fetchTables(ctx, deviceID, day, &data)
			if data.PV == nil {
				log.Ctx(ctx).DebugContext(ctx, "skipping day without data", slog.String("date", day.Format(types.DateLayout)))
				return nil
			}
			results[i] = &types.DaySummary{
				Date:    day.Format(types.DateLayout),
				LoadKwh: data.Load.KWh(),
				GridKwh: data.Grid.KWh(),
				PvKwh:   data.PV.KWh(),
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return types.RangeSummary{}, err
	}

	daily := make([]types.DaySummary, 0, len(days))
	months := make(map[string]*types.MonthSummary)
	for i, r := range results {
		if r == nil {
			continue
		}
		daily = append(daily, *r)

		key := days[i].Format(types.MonthLayout)
		m, ok := months[key]
		if !ok {
			m = &types.MonthSummary{Month: key}
			months[key] = m
		}
		m.Load += r.LoadKwh
		m.Grid += r.GridKwh
		m.Pv += r.PvKwh
		m.Days++
	}

	monthly := make([]types.MonthSummary, 0, len(months))
	for _, m := range months {
		monthly = append(monthly, types.MonthSummary{
			Month: m.Month,
			Load:  types.Round1(m.Load),
			Grid:  types.Round1(m.Grid),
			Pv:    types.Round1(m.Pv),
			Days:  m.Days,
		})
	}
	sort.Slice(monthly, func(i, j int) bool {
		return monthly[i].Month < monthly[j].Month
	})

	return types.RangeSummary{
		DeviceID:    deviceID,
		FromDate:    from.Format(types.DateLayout),
		ToDate:      to.Format(types.DateLayout),
		TotalDays:   len(daily),
		MonthlyData: monthly,
		DailyData:   daily,
	}, nil
}
