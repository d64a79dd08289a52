// Package inventory models managed devices and the directory used to look
// them up by name before commands are sent.
package inventory

import (
	"context"
	"strings"

	"github.com/newtron-network/cdoctl/pkg/util"
)

// Config and out-of-band detection states reported by CDO.
const (
	ConfigStateSynced    = "SYNCED"
	ConfigStateNotSynced = "NOT_SYNCED"
	OOBChangeDetected    = "OOB_CHANGE_DETECTED"
	OOBNoChange          = "NO_CHANGE"
)

// Device types accepted by the directory filter.
const (
	DeviceTypeAll = "all"
	DeviceTypeASA = "asa"
	DeviceTypeIOS = "ios"
)

// Device is one inventory record.
type Device struct {
	UID               string `json:"uid" yaml:"uid"`
	Name              string `json:"name" yaml:"name"`
	DeviceType        string `json:"deviceType,omitempty" yaml:"device_type,omitempty"`
	IPv4              string `json:"ipv4,omitempty" yaml:"ipv4,omitempty"`
	Serial            string `json:"serial,omitempty" yaml:"serial,omitempty"`
	ConfigState       string `json:"configState" yaml:"config_state"`
	OOBDetectionState string `json:"oobDetectionState" yaml:"oob_detection_state"`
}

// InSync reports whether the device configuration matches CDO's record and
// no out-of-band change has been detected. It is derived from the record on
// every call and never cached.
func (d Device) InSync() bool {
	return d.ConfigState == ConfigStateSynced && d.OOBDetectionState != OOBChangeDetected
}

// Filter selects devices. Query matches name, IPv4 address or serial.
type Filter struct {
	Query      string
	DeviceType string
}

// Matches reports whether d satisfies the filter.
func (f Filter) Matches(d Device) bool {
	if f.DeviceType != "" && f.DeviceType != DeviceTypeAll &&
		!strings.EqualFold(f.DeviceType, d.DeviceType) {
		return false
	}
	if f.Query == "" {
		return true
	}
	return d.Name == f.Query || d.IPv4 == f.Query || d.Serial == f.Query
}

// Directory looks devices up. Implementations re-read their backing store on
// every call.
type Directory interface {
	FindDevices(ctx context.Context, filter Filter) ([]Device, error)
}

// Resolve returns the single device selected by filter. Zero or multiple
// matches yield a *util.LookupError.
func Resolve(ctx context.Context, dir Directory, filter Filter) (Device, error) {
	devices, err := dir.FindDevices(ctx, filter)
	if err != nil {
		return Device{}, err
	}
	if len(devices) != 1 {
		return Device{}, util.NewLookupError(filter.Query, len(devices))
	}
	return devices[0], nil
}
