package model

import (
	"errors"
	"fmt"
)

// ErrIncompleteCredential is returned when a credential field is missing.
var ErrIncompleteCredential = errors.New("device credential incomplete")

// DeviceCredential is the pairing material plus descriptive metadata of one device.
// Values are immutable once built; fields are exposed through accessors only.
//
// The two constructors apply different rules. NewDeviceCredential builds from
// cloud data and requires only uuid, local_key and device_id, since the cloud
// leaves descriptive fields blank for some products. CredentialFromBag reads
// persisted data and accepts a credential only when all eight keys are
// present, so a partially written bag falls back to the cloud.
type DeviceCredential struct {
	address      Address
	uuid         string
	localKey     string
	deviceID     string
	category     string
	productID    string
	deviceName   string
	productModel string
	productName  string
}

// CredentialFields is the plain-data form used to build and serialize credentials.
type CredentialFields struct {
	Address      Address `json:"address"`
	UUID         string  `json:"uuid"`
	LocalKey     string  `json:"local_key"`
	DeviceID     string  `json:"device_id"`
	Category     string  `json:"category"`
	ProductID    string  `json:"product_id"`
	DeviceName   string  `json:"device_name"`
	ProductModel string  `json:"product_model"`
	ProductName  string  `json:"product_name"`
}

// NewDeviceCredential builds a credential. The pairing uuid, local key and
// device id are required; descriptive fields may be empty because the cloud
// leaves them blank for some products.
func NewDeviceCredential(f CredentialFields) (DeviceCredential, error) {
	if f.UUID == "" || f.LocalKey == "" || f.DeviceID == "" {
		return DeviceCredential{}, fmt.Errorf("%w: uuid, local_key and device_id are required", ErrIncompleteCredential)
	}
	return DeviceCredential{
		address:      f.Address,
		uuid:         f.UUID,
		localKey:     f.LocalKey,
		deviceID:     f.DeviceID,
		category:     f.Category,
		productID:    f.ProductID,
		deviceName:   f.DeviceName,
		productModel: f.ProductModel,
		productName:  f.ProductName,
	}, nil
}

// CredentialFromBag returns the credential stored in bag when all eight
// credential keys are present.
func CredentialFromBag(bag Bag) (DeviceCredential, bool) {
	if bag == nil {
		return DeviceCredential{}, false
	}
	v := make(map[string]string, len(CredentialKeys))
	for _, key := range CredentialKeys {
		value, ok := bag.Get(key)
		if !ok {
			return DeviceCredential{}, false
		}
		v[key] = value
	}
	addr, _ := bag.Get(KeyAddress)
	cred, err := NewDeviceCredential(CredentialFields{
		Address:      Address(addr),
		UUID:         v[KeyUUID],
		LocalKey:     v[KeyLocalKey],
		DeviceID:     v[KeyDeviceID],
		Category:     v[KeyCategory],
		ProductID:    v[KeyProductID],
		DeviceName:   v[KeyDeviceName],
		ProductModel: v[KeyProductModel],
		ProductName:  v[KeyProductName],
	})
	if err != nil {
		return DeviceCredential{}, false
	}
	return cred, true
}

func (c DeviceCredential) Address() Address     { return c.address }
func (c DeviceCredential) UUID() string         { return c.uuid }
func (c DeviceCredential) LocalKey() string     { return c.localKey }
func (c DeviceCredential) DeviceID() string     { return c.deviceID }
func (c DeviceCredential) Category() string     { return c.category }
func (c DeviceCredential) ProductID() string    { return c.productID }
func (c DeviceCredential) DeviceName() string   { return c.deviceName }
func (c DeviceCredential) ProductModel() string { return c.productModel }
func (c DeviceCredential) ProductName() string  { return c.productName }

// IsZero reports whether c was never built.
func (c DeviceCredential) IsZero() bool {
	return c.uuid == ""
}

// Fields returns a copy of the credential as plain data.
func (c DeviceCredential) Fields() CredentialFields {
	return CredentialFields{
		Address:      c.address,
		UUID:         c.uuid,
		LocalKey:     c.localKey,
		DeviceID:     c.deviceID,
		Category:     c.category,
		ProductID:    c.productID,
		DeviceName:   c.deviceName,
		ProductModel: c.productModel,
		ProductName:  c.productName,
	}
}

// WriteTo copies the credential into bag.
func (c DeviceCredential) WriteTo(bag Bag) {
	if c.address != "" {
		bag.Set(KeyAddress, c.address.String())
	}
	bag.Set(KeyUUID, c.uuid)
	bag.Set(KeyLocalKey, c.localKey)
	bag.Set(KeyDeviceID, c.deviceID)
	bag.Set(KeyCategory, c.category)
	bag.Set(KeyProductID, c.productID)
	bag.Set(KeyDeviceName, c.deviceName)
	bag.Set(KeyProductModel, c.productModel)
	bag.Set(KeyProductName, c.productName)
}

// String never includes the local key.
func (c DeviceCredential) String() string {
	return fmt.Sprintf("DeviceCredential{address=%s device_id=%s category=%s product_id=%s name=%q}",
		c.address, c.deviceID, c.category, c.productID, c.deviceName)
}
