package record

import (
	"time"
)

// Record is the durable unit kvlet keeps per key.
// ID is unique and assigned by the caller.
// Info, Target and Response are optional and nil when absent.
// CreatedAt is fixed at first insert; UpdatedAt moves on every write.
type Record struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Info      *string   `json:"info,omitempty"`
	Target    *Target   `json:"target,omitempty"`
	Response  *Response `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Target is where state changes for a record are reported.
type Target struct {
	Method   Method `json:"method"`
	Endpoint string `json:"endpoint"`
}

// Dispatchable reports whether the target results in an outbound call.
func (t *Target) Dispatchable() bool {
	return t != nil && t.Method != MethodNone && t.Endpoint != ""
}

// Response is the outcome of the latest completed dispatch.
type Response struct {
	StatusCode uint16 `json:"status_code"`
	Body       string `json:"body"`
}

// Write is an incoming set request before it is reconciled with stored state.
type Write struct {
	ID     string
	State  string
	Info   *string
	Target *Target
}

// Validate rejects writes that can never be stored.
func (w Write) Validate() error {
	if w.ID == "" {
		return &ConfigError{Field: "id", Msg: "must not be empty"}
	}
	if w.State == "" {
		return &ConfigError{Field: "state", Msg: "must not be empty"}
	}
	return nil
}

// StringPtr returns nil for "" and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Millis converts t to the millisecond epoch used in storage.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts a stored millisecond epoch back into UTC time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
