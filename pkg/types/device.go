package types

// DeviceInfo is the vendor's metadata for an inverter. Only the fields the
// dashboard renders are typed; the rest of the upstream object is dropped.
type DeviceInfo struct {
	DeviceID     string `json:"deviceId"`
	DeviceType   string `json:"deviceType"`
	RemarkName   string `json:"remarkName"`
	OnlineStatus int    `json:"onlineStatus"`
	Model        string `json:"model,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
}

// Online returns true when the vendor reports the device as connected.
func (d DeviceInfo) Online() bool {
	return d.OnlineStatus == 1
}

// DeviceData is the aggregated result for one device and one day. DeviceInfo
// is nil when the device could not be resolved upstream; any other nil field
// means that table could not be fetched.
type DeviceData struct {
	DeviceInfo    *DeviceInfo `json:"deviceInfo"`
	PV            *Table      `json:"pv"`
	Bat           *BatData    `json:"bat"`
	EssentialLoad *Table      `json:"essentialLoad"`
	Grid          *Table      `json:"grid"`
	Load          *Table      `json:"load"`
}

// WithDefaults returns a copy with every missing energy table replaced by its
// zero-valued default. DeviceInfo is never synthesized.
func (d DeviceData) WithDefaults() DeviceData {
	if d.PV == nil {
		pv := DefaultPV()
		d.PV = &pv
	}
	if d.Bat == nil {
		bat := DefaultBat()
		d.Bat = &bat
	}
	if d.EssentialLoad == nil {
		t := DefaultLoad(TableNameEssentialLoad)
		d.EssentialLoad = &t
	}
	if d.Grid == nil {
		t := DefaultLoad(TableNameGrid)
		d.Grid = &t
	}
	if d.Load == nil {
		t := DefaultLoad(TableNameHomeLoad)
		d.Load = &t
	}
	return d
}
