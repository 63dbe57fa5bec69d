package types

import "math"

// DateLayout is the calendar date format used on every endpoint.
const DateLayout = "2006-01-02"

// MonthLayout keys the monthly rollups.
const MonthLayout = "2006-01"

// TodaySummary is the single-day energy summary in kWh.
type TodaySummary struct {
	DeviceID         string  `json:"deviceId"`
	Date             string  `json:"date"`
	SolarKwh         float64 `json:"solarKwh"`
	LoadKwh          float64 `json:"loadKwh"`
	GridKwh          float64 `json:"gridKwh"`
	BatChargeKwh     float64 `json:"batChargeKwh"`
	BatDischargeKwh  float64 `json:"batDischargeKwh"`
	EssentialLoadKwh float64 `json:"essentialLoadKwh"`
}

// DaySummary is one day inside a RangeSummary.
type DaySummary struct {
	Date    string  `json:"date"`
	LoadKwh float64 `json:"loadKwh"`
	GridKwh float64 `json:"gridKwh"`
	PvKwh   float64 `json:"pvKwh"`
}

// MonthSummary is the rollup of the days of one month that had data.
type MonthSummary struct {
	Month string  `json:"month"`
	Load  float64 `json:"load"`
	Grid  float64 `json:"grid"`
	Pv    float64 `json:"pv"`
	Days  int     `json:"days"`
}

// RangeSummary is the result of a multi-day summary.
type RangeSummary struct {
	DeviceID    string         `json:"deviceId"`
	FromDate    string         `json:"fromDate"`
	ToDate      string         `json:"toDate"`
	TotalDays   int            `json:"totalDays"`
	MonthlyData []MonthSummary `json:"monthlyData"`
	DailyData   []DaySummary   `json:"dailyData"`
}

// Round1 rounds to one decimal place, with halves going to the even digit.
func Round1(v float64) float64 {
	return math.RoundToEven(v*10) / 10
}
