package model

// Configuration bag keys shared with the host configuration.
const (
	KeyAccessID     = "access_id"
	KeyAccessSecret = "access_secret"
	KeyRegion       = "region"
	KeyTuyaDeviceID = "tuya_device_id"

	KeyAddress      = "address"
	KeyUUID         = "uuid"
	KeyLocalKey     = "local_key"
	KeyDeviceID     = "device_id"
	KeyCategory     = "category"
	KeyProductID    = "product_id"
	KeyDeviceName   = "device_name"
	KeyProductModel = "product_model"
	KeyProductName  = "product_name"
)

// LoginKeys are the fields that make up a login identity, in canonical order.
var LoginKeys = []string{KeyAccessID, KeyAccessSecret, KeyTuyaDeviceID, KeyRegion}

// CredentialKeys are the fields that make up a device credential.
var CredentialKeys = []string{
	KeyUUID,
	KeyLocalKey,
	KeyDeviceID,
	KeyCategory,
	KeyProductID,
	KeyDeviceName,
	KeyProductName,
	KeyProductModel,
}
