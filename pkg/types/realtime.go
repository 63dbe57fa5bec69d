package types

import "time"

// RealTimeData is the live power snapshot pushed to subscribed viewers.
// Power values are watts, voltages volts.
type RealTimeData struct {
	DeviceID           string    `json:"deviceId"`
	Timestamp          time.Time `json:"timestamp"`
	PVTotalPower       int       `json:"pvTotalPower"`
	PV1Power           int       `json:"pv1Power"`
	PV1Voltage         float64   `json:"pv1Voltage"`
	PV2Power           int       `json:"pv2Power,omitempty"`
	PV2Voltage         float64   `json:"pv2Voltage,omitempty"`
	GridValue          int       `json:"gridValue"`
	GridVoltageValue   float64   `json:"gridVoltageValue"`
	BatteryPercent     float64   `json:"batteryPercent"`
	BatteryStatus      string    `json:"batteryStatus"`
	BatteryValue       int       `json:"batteryValue"`
	DeviceTempValue    float64   `json:"deviceTempValue"`
	EssentialValue     int       `json:"essentialValue"`
	LoadValue          int       `json:"loadValue"`
	InverterACOutPower int       `json:"inverterAcOutPower"`
}

// BatteryCellData holds per-cell voltages. Unpopulated cell slots are 0.
type BatteryCellData struct {
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	Cells     []float64 `json:"cells"`
}

// SOCPoint is one state-of-charge sample.
type SOCPoint struct {
	Time string  `json:"time"`
	SOC  float64 `json:"soc"`
}

// SOCData is the state-of-charge history for a day.
type SOCData struct {
	DeviceID string     `json:"deviceId"`
	Date     string     `json:"date"`
	History  []SOCPoint `json:"history"`
}
