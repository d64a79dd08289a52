package cdo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/newtron-network/cdoctl/pkg/inventory"
)

// inventoryResolve lists the device fields the inventory query returns.
const inventoryResolve = "[targets/devices.{name,deviceType,configState,configProcessingState,model,ipv4," +
	"serial,connectivityState,oobDetectionState,enableOobDetection,softwareVersion,larUid,larType}]"

// InventoryQuery builds the q and r parameters selecting devices of
// filter.DeviceType whose name, IPv4 address or serial equals filter.Query.
func InventoryQuery(filter inventory.Filter) url.Values {
	var q string
	switch strings.ToLower(filter.DeviceType) {
	case "", inventory.DeviceTypeAll:
		q = "((model:false))"
	default:
		q = fmt.Sprintf("((model:false) AND (deviceType:%s)) AND (NOT deviceType:FMCE)", strings.ToUpper(filter.DeviceType))
	}
	if filter.Query != "" {
		f := filter.Query
		q = strings.Replace(q, "(model:false)",
			fmt.Sprintf("(model:false) AND ((name:%s) OR (ipv4:%s) OR (serial:%s))", f, f, f), 1)
	}
	return url.Values{"q": {q}, "r": {inventoryResolve}}
}

// FindDevices queries the tenant inventory, following pages until a short
// page is returned.
func (c *Client) FindDevices(ctx context.Context, filter inventory.Filter) ([]inventory.Device, error) {
	query := InventoryQuery(filter)
	query.Set("limit", strconv.Itoa(c.pageSize))

	var all []inventory.Device
	for offset := 0; ; offset += c.pageSize {
		query.Set("offset", strconv.Itoa(offset))
		var page []inventory.Device
		if err := c.get(ctx, pathDevices, query, &page); err != nil {
			return nil, fmt.Errorf("querying inventory: %w", err)
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			break
		}
	}
	return all, nil
}

// SpecificDevice is the device-type specific model behind an inventory
// record. CLI commands are submitted against its uid.
type SpecificDevice struct {
	UID       string `json:"uid"`
	Namespace string `json:"namespace"`
	Type      string `json:"type"`
}

// SpecificDevice looks up the specific model of the device uid.
func (c *Client) SpecificDevice(ctx context.Context, uid string) (SpecificDevice, error) {
	var sd SpecificDevice
	if err := c.get(ctx, fmt.Sprintf(pathSpecificDevice, url.PathEscape(uid)), nil, &sd); err != nil {
		return SpecificDevice{}, fmt.Errorf("looking up specific device of %s: %w", uid, err)
	}
	if sd.UID == "" {
		return SpecificDevice{}, fmt.Errorf("device %s has no specific device", uid)
	}
	return sd, nil
}
