package types

import "strings"

const (
	TableNamePV            = "PV"
	TableNameEssentialLoad = "EssentialLoad"
	TableNameGrid          = "Grid"
	TableNameHomeLoad      = "HomeLoad"

	BatKeyCharge    = "charge"
	BatKeyDischarge = "discharge"

	// SamplesPerDay is one sample per 5 minute interval.
	SamplesPerDay = 288
)

// Table is a single energy metric for a day. TableValue is the day's total in
// tenths of kWh; TableValueInfo holds the per-interval power samples.
type Table struct {
	TableKey       string `json:"tableKey"`
	TableName      string `json:"tableName"`
	TableValue     int    `json:"tableValue"`
	TableValueInfo []int  `json:"tableValueInfo"`
}

// KWh converts the table total to kWh.
func (t *Table) KWh() float64 {
	if t == nil {
		return 0
	}
	return TenthsToKWh(t.TableValue)
}

// BatEntry is the charge or discharge total inside BatData.
type BatEntry struct {
	TableKey   string `json:"tableKey"`
	TableName  string `json:"tableName"`
	TableValue int    `json:"tableValue"`
}

// BatData is the battery table. Bats holds the charge entry followed by the
// discharge entry. TableValueInfo is signed: negative while charging.
type BatData struct {
	Bats           []BatEntry `json:"bats"`
	TableValueInfo []int      `json:"tableValueInfo"`
}

func (b *BatData) entry(key string, idx int) int {
	if b == nil {
		return 0
	}
	for _, e := range b.Bats {
		if e.TableKey == key {
			return e.TableValue
		}
	}
	// fall back to position when the vendor omits keys
	if idx < len(b.Bats) && b.Bats[idx].TableKey == "" {
		return b.Bats[idx].TableValue
	}
	return 0
}

// ChargeKWh returns the day's battery charge in kWh.
func (b *BatData) ChargeKWh() float64 {
	return TenthsToKWh(b.entry(BatKeyCharge, 0))
}

// DischargeKWh returns the day's battery discharge in kWh.
func (b *BatData) DischargeKWh() float64 {
	return TenthsToKWh(b.entry(BatKeyDischarge, 1))
}

// OtherDayData groups the load tables the vendor returns from one call. Each
// table is optional on its own.
type OtherDayData struct {
	EssentialLoad *Table `json:"essentialLoad"`
	Grid          *Table `json:"grid"`
	HomeLoad      *Table `json:"homeload"`
}

// TenthsToKWh converts the vendor's tenths-of-kWh unit to kWh.
func TenthsToKWh(v int) float64 {
	return float64(v) / 10.0
}

// DefaultPV is the table substituted when PV data is unavailable.
func DefaultPV() Table {
	return Table{
		TableKey:       "pv",
		TableName:      TableNamePV,
		TableValue:     0,
		TableValueInfo: []int{},
	}
}

// DefaultBat is the battery table substituted when battery data is
// unavailable.
func DefaultBat() BatData {
	return BatData{
		Bats: []BatEntry{
			{TableName: "Charge", TableKey: BatKeyCharge, TableValue: 0},
			{TableName: "Discharge", TableKey: BatKeyDischarge, TableValue: 0},
		},
		TableValueInfo: []int{},
	}
}

// DefaultLoad is the load-style table substituted when the named table is
// unavailable. The key is the lowercased name.
func DefaultLoad(name string) Table {
	return Table{
		TableKey:       strings.ToLower(name),
		TableName:      name,
		TableValue:     0,
		TableValueInfo: []int{},
	}
}
