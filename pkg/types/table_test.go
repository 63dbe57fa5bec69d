package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaults(t *testing.T) {
	t.Run("fills every missing table", func(t *testing.T) {
		d := DeviceData{DeviceInfo: &DeviceInfo{DeviceID: "P250812032"}}.WithDefaults()

		require.NotNil(t, d.PV)
		assert.Equal(t, "pv", d.PV.TableKey)
		assert.Equal(t, "PV", d.PV.TableName)
		assert.Equal(t, 0, d.PV.TableValue)
		assert.NotNil(t, d.PV.TableValueInfo)
		assert.Empty(t, d.PV.TableValueInfo)

		require.NotNil(t, d.Bat)
		require.Len(t, d.Bat.Bats, 2)
		assert.Equal(t, BatKeyCharge, d.Bat.Bats[0].TableKey)
		assert.Equal(t, BatKeyDischarge, d.Bat.Bats[1].TableKey)
		assert.Equal(t, 0, d.Bat.Bats[0].TableValue)
		assert.Equal(t, 0, d.Bat.Bats[1].TableValue)

		require.NotNil(t, d.EssentialLoad)
		assert.Equal(t, "essentialload", d.EssentialLoad.TableKey)
		assert.Equal(t, "EssentialLoad", d.EssentialLoad.TableName)
		require.NotNil(t, d.Grid)
		assert.Equal(t, "grid", d.Grid.TableKey)
		require.NotNil(t, d.Load)
		assert.Equal(t, "homeload", d.Load.TableKey)
		assert.Equal(t, "HomeLoad", d.Load.TableName)
	})

	t.Run("keeps upstream values", func(t *testing.T) {
		pv := Table{TableKey: "pv", TableName: "PV", TableValue: 123, TableValueInfo: []int{1, 2}}
		d := DeviceData{PV: &pv}.WithDefaults()
		assert.Same(t, &pv, d.PV)
		assert.Nil(t, d.DeviceInfo, "device info is never synthesized")
	})

	t.Run("no nulls reach json", func(t *testing.T) {
		b, err := json.Marshal(DeviceData{DeviceInfo: &DeviceInfo{}}.WithDefaults())
		require.NoError(t, err)
		assert.NotContains(t, string(b), "null")
	})
}

func TestBatData(t *testing.T) {
	b := &BatData{Bats: []BatEntry{
		{TableKey: BatKeyDischarge, TableValue: 40},
		{TableKey: BatKeyCharge, TableValue: 55},
	}}
	assert.Equal(t, 5.5, b.ChargeKWh())
	assert.Equal(t, 4.0, b.DischargeKWh())

	unkeyed := &BatData{Bats: []BatEntry{{TableValue: 10}, {TableValue: 20}}}
	assert.Equal(t, 1.0, unkeyed.ChargeKWh())
	assert.Equal(t, 2.0, unkeyed.DischargeKWh())

	var missing *BatData
	assert.Equal(t, 0.0, missing.ChargeKWh())
	assert.Equal(t, 0.0, (&BatData{}).DischargeKWh())
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 12.3, TenthsToKWh(123))
	assert.Equal(t, 0.0, (*Table)(nil).KWh())
	assert.Equal(t, 1.2, Round1(1.24))
	assert.Equal(t, 1.2, Round1(1.25))
	assert.Equal(t, 1.3, Round1(1.26))
	assert.Equal(t, 2.8, Round1(2.75))
}

func TestStoredToken(t *testing.T) {
	now := time.Now()
	assert.True(t, StoredToken{Token: "a", Expiry: now.Add(time.Minute)}.Valid(now))
	assert.False(t, StoredToken{Token: "a", Expiry: now.Add(-time.Minute)}.Valid(now))
	assert.False(t, StoredToken{Expiry: now.Add(time.Minute)}.Valid(now))
}
