package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumentreeinfo/lumentree/pkg/lumentree"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

type fakeUpstream struct {
	mu       sync.Mutex
	info     *types.DeviceInfo
	infoErr  error
	pv       map[string]*types.Table
	pvErr    map[string]error
	bat      *types.BatData
	batErr   error
	other    types.OtherDayData
	otherErr error
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeUpstream) GetDeviceInfo(ctx context.Context, deviceID string) (*types.DeviceInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeUpstream) GetPVDayData(ctx context.Context, deviceID string, date time.Time) (*types.Table, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := date.Format(types.DateLayout)
	if err := f.pvErr[key]; err != nil {
		return nil, err
	}
	if pv, ok := f.pv[key]; ok {
		return pv, nil
	}
	return f.pv["*"], nil
}

func (f *fakeUpstream) GetBatDayData(ctx context.Context, deviceID string, date time.Time) (*types.BatData, error) {
	return f.bat, f.batErr
}

func (f *fakeUpstream) GetOtherDayData(ctx context.Context, deviceID string, date time.Time) (types.OtherDayData, error) {
	return f.other, f.otherErr
}

func table(key, name string, value int) *types.Table {
	return &types.Table{TableKey: key, TableName: name, TableValue: value, TableValueInfo: []int{1, 2, 3}}
}

func day(s string) time.Time {
	t, err := time.Parse(types.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGetAllDeviceData(t *testing.T) {
	t.Run("All Tables", func(t *testing.T) {
		up := &fakeUpstream{
			info: &types.DeviceInfo{DeviceID: "P1", DeviceType: "inv"},
			pv:   map[string]*types.Table{"*": table("pv", "PV", 123)},
			bat: &types.BatData{Bats: []types.BatEntry{
				{TableKey: "charge", TableValue: 10},
				{TableKey: "discharge", TableValue: 20},
			}},
			other: types.OtherDayData{
				EssentialLoad: table("essentialLoad", "EssentialLoad", 5),
				Grid:          table("grid", "Grid", 6),
				HomeLoad:      table("homeload", "HomeLoad", 7),
			},
		}
		g := New(up, 0, 0)

		data, err := g.GetAllDeviceData(context.Background(), "P1", day("2025-08-01"))
		require.NoError(t, err)
		assert.Equal(t, "inv", data.DeviceInfo.DeviceType)
		assert.Equal(t, 123, data.PV.TableValue)
		assert.Equal(t, 5, data.EssentialLoad.TableValue)
		assert.Equal(t, 6, data.Grid.TableValue)
		assert.Equal(t, 7, data.Load.TableValue)
		assert.Len(t, data.Bat.Bats, 2)
	})

	t.Run("Partial Failure Leaves Nil", func(t *testing.T) {
		up := &fakeUpstream{
			info:     &types.DeviceInfo{DeviceID: "P1"},
			pvErr:    map[string]error{"2025-08-01": errors.New("boom")},
			batErr:   lumentree.ErrTimeout,
			otherErr: lumentree.ErrConnect,
		}
		g := New(up, 0, 0)

		data, err := g.GetAllDeviceData(context.Background(), "P1", day("2025-08-01"))
		require.NoError(t, err)
		require.NotNil(t, data.DeviceInfo)
		assert.Nil(t, data.PV)
		assert.Nil(t, data.Bat)
		assert.Nil(t, data.Grid)

		full := data.WithDefaults()
		assert.Equal(t, "pv", full.PV.TableKey)
		assert.Equal(t, 0, full.PV.TableValue)
		assert.Equal(t, "homeload", full.Load.TableKey)
		require.Len(t, full.Bat.Bats, 2)
		assert.Equal(t, types.BatKeyDischarge, full.Bat.Bats[1].TableKey)
	})

	t.Run("Device Not Found", func(t *testing.T) {
		up := &fakeUpstream{infoErr: lumentree.ErrDeviceNotFound}
		g := New(up, 0, 0)

		_, err := g.GetAllDeviceData(context.Background(), "NOPE", day("2025-08-01"))
		assert.ErrorIs(t, err, lumentree.ErrDeviceNotFound)
	})

	t.Run("Info Failure Is Not Found", func(t *testing.T) {
		up := &fakeUpstream{infoErr: lumentree.ErrConnect}
		g := New(up, 0, 0)

		_, err := g.GetAllDeviceData(context.Background(), "P1", day("2025-08-01"))
		assert.ErrorIs(t, err, lumentree.ErrDeviceNotFound)
		assert.ErrorIs(t, err, lumentree.ErrConnect)
	})

	t.Run("Canceled", func(t *testing.T) {
		up := &fakeUpstream{info: &types.DeviceInfo{DeviceID: "P1"}}
		g := New(up, 0, 0)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := g.GetAllDeviceData(ctx, "P1", day("2025-08-01"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestToday(t *testing.T) {
	t.Run("Converts Tenths", func(t *testing.T) {
		up := &fakeUpstream{
			pv: map[string]*types.Table{"*": table("pv", "PV", 123)},
			bat: &types.BatData{Bats: []types.BatEntry{
				{TableKey: "charge", TableValue: 45},
				{TableKey: "discharge", TableValue: 38},
			}},
			other: types.OtherDayData{
				Grid:     table("grid", "Grid", 21),
				HomeLoad: table("homeload", "HomeLoad", 150),
			},
		}
		g := New(up, 0, 0)
		g.now = func() time.Time { return day("2025-08-02").Add(13 * time.Hour) }

		sum, err := g.Today(context.Background(), "P1")
		require.NoError(t, err)
		assert.Equal(t, "P1", sum.DeviceID)
		assert.Equal(t, "2025-08-02", sum.Date)
		assert.InDelta(t, 12.3, sum.SolarKwh, 0.0001)
		assert.InDelta(t, 15.0, sum.LoadKwh, 0.0001)
		assert.InDelta(t, 2.1, sum.GridKwh, 0.0001)
		assert.InDelta(t, 4.5, sum.BatChargeKwh, 0.0001)
		assert.InDelta(t, 3.8, sum.BatDischargeKwh, 0.0001)
		assert.Equal(t, 0.0, sum.EssentialLoadKwh)
	})

	t.Run("No PV", func(t *testing.T) {
		g := New(&fakeUpstream{}, 0, 0)
		_, err := g.Today(context.Background(), "P1")
		assert.ErrorIs(t, err, ErrNoData)
	})
}

func TestSummary(t *testing.T) {
	t.Run("Skips Failed Day", func(t *testing.T) {
		up := &fakeUpstream{
			pv:    map[string]*types.Table{"*": table("pv", "PV", 100)},
			pvErr: map[string]error{"2024-01-02": errors.New("upstream failed")},
			other: types.OtherDayData{
				Grid:     table("grid", "Grid", 11),
				HomeLoad: table("homeload", "HomeLoad", 22),
			},
		}
		g := New(up, 0, 0)

		sum, err := g.Summary(context.Background(), "P1", day("2024-01-01"), day("2024-01-03"))
		require.NoError(t, err)
		assert.Equal(t, 2, sum.TotalDays)
		require.Len(t, sum.DailyData, 2)
		assert.Equal(t, "2024-01-01", sum.DailyData[0].Date)
		assert.Equal(t, "2024-01-03", sum.DailyData[1].Date)
		assert.Equal(t, "2024-01-01", sum.FromDate)
		assert.Equal(t, "2024-01-03", sum.ToDate)

		require.Len(t, sum.MonthlyData, 1)
		assert.Equal(t, types.MonthSummary{Month: "2024-01", Load: 4.4, Grid: 2.2, Pv: 20, Days: 2}, sum.MonthlyData[0])
	})

	t.Run("Monthly Sorted", func(t *testing.T) {
		up := &fakeUpstream{pv: map[string]*types.Table{"*": table("pv", "PV", 1)}}
		g := New(up, 0, 3)

		sum, err := g.Summary(context.Background(), "P1", day("2023-12-30"), day("2024-02-01"))
		require.NoError(t, err)
		assert.Equal(t, 34, sum.TotalDays)
		require.Len(t, sum.MonthlyData, 3)
		assert.Equal(t, "2023-12", sum.MonthlyData[0].Month)
		assert.Equal(t, 2, sum.MonthlyData[0].Days)
		assert.Equal(t, "2024-01", sum.MonthlyData[1].Month)
		assert.Equal(t, 31, sum.MonthlyData[1].Days)
		assert.Equal(t, 3.1, sum.MonthlyData[1].Pv)
		assert.Equal(t, "2024-02", sum.MonthlyData[2].Month)
		for i := 1; i < len(sum.DailyData); i++ {
			assert.Less(t, sum.DailyData[i-1].Date, sum.DailyData[i].Date)
		}
		assert.LessOrEqual(t, up.maxSeen.Load(), int32(3))
	})

	t.Run("Reversed Range", func(t *testing.T) {
		g := New(&fakeUpstream{}, 0, 0)
		_, err := g.Summary(context.Background(), "P1", day("2024-01-03"), day("2024-01-01"))
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("Too Long", func(t *testing.T) {
		g := New(&fakeUpstream{}, 10, 0)
		_, err := g.Summary(context.Background(), "P1", day("2024-01-01"), day("2024-01-11"))
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("At Maximum", func(t *testing.T) {
		up := &fakeUpstream{pv: map[string]*types.Table{"*": table("pv", "PV", 10)}}
		g := New(up, 10, 0)
		sum, err := g.Summary(context.Background(), "P1", day("2024-01-01"), day("2024-01-10"))
		require.NoError(t, err)
		assert.Equal(t, 10, sum.TotalDays)
	})

	t.Run("Extreme Range Rejected Without Fetching", func(t *testing.T) {
		up := &fakeUpstream{}
		g := New(up, 0, 0)
		start := time.Now()
		_, err := g.Summary(context.Background(), "P1", day("0001-01-01"), day("9999-12-31"))
		assert.ErrorIs(t, err, ErrInvalidRange)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
		assert.Zero(t, up.maxSeen.Load())
	})

	t.Run("Same Day Different Times", func(t *testing.T) {
		up := &fakeUpstream{pv: map[string]*types.Table{"*": table("pv", "PV", 20)}}
		g := New(up, 0, 0)
		from := day("2024-01-02").Add(15 * time.Hour)
		sum, err := g.Summary(context.Background(), "P1", from, day("2024-01-02"))
		require.NoError(t, err)
		assert.Equal(t, 1, sum.TotalDays)
		assert.Equal(t, "2024-01-02", sum.DailyData[0].Date)
	})

	t.Run("Single Day", func(t *testing.T) {
		up := &fakeUpstream{pv: map[string]*types.Table{"*": table("pv", "PV", 55)}}
		g := New(up, 0, 0)
		sum, err := g.Summary(context.Background(), "P1", day("2024-03-05"), day("2024-03-05"))
		require.NoError(t, err)
		assert.Equal(t, 1, sum.TotalDays)
		assert.Equal(t, 5.5, sum.DailyData[0].PvKwh)
	})
}

func TestDays(t *testing.T) {
	days := Days(day("2024-02-27"), day("2024-03-01").Add(5*time.Hour))
	require.Len(t, days, 4)
	assert.Equal(t, "2024-02-29", days[2].Format(types.DateLayout))
}
