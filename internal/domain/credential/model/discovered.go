package model

import "fmt"

// DeviceSource tags where a candidate device came from.
type DeviceSource string

const (
	SourceLiveScan    DeviceSource = "live_scan"
	SourceManualEntry DeviceSource = "manual_entry"
	SourceCloudCache  DeviceSource = "cloud_cache"
)

// DiscoveredDevice is a device offered to the user for setup.
type DiscoveredDevice struct {
	Address Address      `json:"address"`
	Name    string       `json:"name"`
	RSSI    *int         `json:"rssi,omitempty"`
	Source  DeviceSource `json:"source"`
}

// NewScannedDevice records a device seen in a live BLE scan.
func NewScannedDevice(address Address, name string, rssi int) DiscoveredDevice {
	return DiscoveredDevice{Address: address, Name: name, RSSI: &rssi, Source: SourceLiveScan}
}

// NewManualDevice validates a user-typed address.
func NewManualDevice(raw string) (DiscoveredDevice, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return DiscoveredDevice{}, err
	}
	return DiscoveredDevice{
		Address: addr,
		Name:    fmt.Sprintf("Manual Entry (%s)", addr),
		Source:  SourceManualEntry,
	}, nil
}

// NewCloudDevice lists a device known only from the cloud cache.
func NewCloudDevice(address Address, name string) DiscoveredDevice {
	if name == "" {
		name = "Unknown Device"
	}
	return DiscoveredDevice{Address: address, Name: name, Source: SourceCloudCache}
}
