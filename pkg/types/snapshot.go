package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DeviceInfo is the device payload returned by the cloud. It is either a
// single mapping or an ordered list of mappings where the first one is
// authoritative. The received shape is preserved when marshaling.
type DeviceInfo struct {
	records []map[string]any
	list    bool
}

// NewDeviceInfo builds a DeviceInfo from a decoded JSON value. Anything that
// isn't a non-empty object or a list of objects results in an empty
// DeviceInfo.
func NewDeviceInfo(v any) DeviceInfo {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return DeviceInfo{}
		}
		return DeviceInfo{records: []map[string]any{t}}
	case []map[string]any:
		return DeviceInfo{records: t, list: true}
	case []any:
		d := DeviceInfo{list: true}
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				d.records = append(d.records, m)
			}
		}
		return d
	}
	return DeviceInfo{}
}

// First returns the authoritative record or nil if there is none.
func (d DeviceInfo) First() map[string]any {
	if len(d.records) == 0 {
		return nil
	}
	return d.records[0]
}

// IsList reports whether the cloud returned a list of records.
func (d DeviceInfo) IsList() bool {
	return d.list
}

// Empty reports whether there are no records.
func (d DeviceInfo) Empty() bool {
	return len(d.records) == 0
}

// Len returns the number of records.
func (d DeviceInfo) Len() int {
	return len(d.records)
}

// MarshalJSON implements json.Marshaler.
func (d DeviceInfo) MarshalJSON() ([]byte, error) {
	if d.list {
		if d.records == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(d.records)
	}
	if len(d.records) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(d.records[0])
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DeviceInfo) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = DeviceInfo{}
		return nil
	}
	switch b[0] {
	case '[':
		var records []map[string]any
		if err := json.Unmarshal(b, &records); err != nil {
			return err
		}
		*d = DeviceInfo{records: records, list: true}
	case '{':
		var record map[string]any
		if err := json.Unmarshal(b, &record); err != nil {
			return err
		}
		*d = NewDeviceInfo(record)
	default:
		return fmt.Errorf("device info must be an object or a list, got %q", b[0])
	}
	return nil
}

// Statistics is the stats payload returned by the cloud: "mode", "state" and a
// nested "data" mapping with powerToEv, activeEnergyToEv and
// activeEnergyFromEv in W/Wh.
type Statistics map[string]any

// Data returns the nested "data" mapping or nil.
func (s Statistics) Data() map[string]any {
	data, _ := s["data"].(map[string]any)
	return data
}

// Snapshot is one completed poll cycle. It is never modified after being
// published; the next successful poll replaces it wholesale.
type Snapshot struct {
	Device     DeviceInfo `json:"device"`
	Statistics Statistics `json:"statistics"`
	FetchedAt  time.Time  `json:"fetchedAt"`
}
