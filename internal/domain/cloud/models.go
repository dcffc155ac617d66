package cloud

import (
	"fmt"

	"tuya-ble-cloud/internal/domain/credential/model"
)

// Device is one entry of a device listing.
type Device struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	LocalKey    string `json:"local_key"`
	Category    string `json:"category"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Model       string `json:"model"`
	ProductName string `json:"product_name"`
	UID         string `json:"uid,omitempty"`
	Online      bool   `json:"online,omitempty"`
}

// Credential builds the pairing credential of the device at address.
func (d Device) Credential(address model.Address) (model.DeviceCredential, error) {
	return model.NewDeviceCredential(model.CredentialFields{
		Address:      address,
		UUID:         d.UUID,
		LocalKey:     d.LocalKey,
		DeviceID:     d.ID,
		Category:     d.Category,
		ProductID:    d.ProductID,
		DeviceName:   d.Name,
		ProductModel: d.Model,
		ProductName:  d.ProductName,
	})
}

// FactoryInfo is one entry of the factory-infos response.
type FactoryInfo struct {
	ID   string `json:"id"`
	UUID string `json:"uuid"`
	SN   string `json:"sn,omitempty"`
	MAC  string `json:"mac"`
}

// Address normalizes the factory MAC.
func (f FactoryInfo) Address() (model.Address, error) {
	if f.MAC == "" {
		return "", fmt.Errorf("factory info for %s has no mac", f.ID)
	}
	return model.ParseAddress(f.MAC)
}

type tokenResult struct {
	AccessToken  string `json:"access_token"`
	ExpireTime   int64  `json:"expire_time"`
	RefreshToken string `json:"refresh_token"`
	UID          string `json:"uid"`
}

type deviceOwner struct {
	UID string `json:"uid"`
}

// FactoryInfoPath is the factory metadata endpoint for one device. The query
// is part of the path so that it is covered by the signature.
func FactoryInfoPath(deviceID string) string {
	return "/v1.0/iot-03/devices/factory-infos?device_ids=" + deviceID
}
