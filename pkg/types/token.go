package types

import "time"

// StoredToken is an upstream session token as persisted outside the process.
type StoredToken struct {
	DeviceID string    `json:"deviceId"`
	Token    string    `json:"token"`
	Expiry   time.Time `json:"expiry"`
}

// Valid returns true if the token is non-empty and not expired at now.
func (t StoredToken) Valid(now time.Time) bool {
	return t.Token != "" && now.Before(t.Expiry)
}
