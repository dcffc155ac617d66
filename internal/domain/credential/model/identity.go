package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrIncompleteLogin is returned when a login identity lacks one of its fields.
var ErrIncompleteLogin = errors.New("login identity incomplete")

// LoginIdentity authenticates against the vendor cloud.
//
// AccountDeviceID is optional in meaning (an empty string means "not set") but
// the field must still be present in the source configuration for the identity
// to be considered complete.
type LoginIdentity struct {
	AccessID        string `json:"access_id"`
	AccessSecret    string `json:"access_secret"`
	AccountDeviceID string `json:"tuya_device_id"`
	Region          string `json:"region"`
}

// NewLoginIdentity validates that key, secret and region are set.
func NewLoginIdentity(accessID, accessSecret, accountDeviceID, region string) (LoginIdentity, error) {
	id := LoginIdentity{
		AccessID:        strings.TrimSpace(accessID),
		AccessSecret:    strings.TrimSpace(accessSecret),
		AccountDeviceID: strings.TrimSpace(accountDeviceID),
		Region:          strings.ToLower(strings.TrimSpace(region)),
	}
	if id.AccessID == "" || id.AccessSecret == "" || id.Region == "" {
		return LoginIdentity{}, ErrIncompleteLogin
	}
	return id, nil
}

// LoginFromBag extracts a login identity. All four login keys must be present;
// the account device id may be empty.
func LoginFromBag(bag Bag) (LoginIdentity, error) {
	if bag == nil {
		return LoginIdentity{}, ErrIncompleteLogin
	}
	values := make([]string, len(LoginKeys))
	for i, key := range LoginKeys {
		v, ok := bag.Get(key)
		if !ok {
			return LoginIdentity{}, ErrIncompleteLogin
		}
		values[i] = v
	}
	return NewLoginIdentity(values[0], values[1], values[2], values[3])
}

// HasLogin reports whether the bag carries a complete login identity.
func HasLogin(bag Bag) bool {
	_, err := LoginFromBag(bag)
	return err == nil
}

// Key is the deterministic cache key of the identity. Field order is fixed by
// the struct, so equal identities always produce equal keys.
func (l LoginIdentity) Key() string {
	raw, _ := json.Marshal(l)
	return string(raw)
}

// Complete reports whether the identity may be used as a cache key.
func (l LoginIdentity) Complete() bool {
	return l.AccessID != "" && l.AccessSecret != "" && l.Region != ""
}

// WriteTo copies the identity into bag.
func (l LoginIdentity) WriteTo(bag Bag) {
	bag.Set(KeyAccessID, l.AccessID)
	bag.Set(KeyAccessSecret, l.AccessSecret)
	bag.Set(KeyTuyaDeviceID, l.AccountDeviceID)
	bag.Set(KeyRegion, l.Region)
}

// Redacted returns a log-safe short form of the access id.
func (l LoginIdentity) Redacted() string {
	return RedactID(l.AccessID)
}

// RedactID keeps at most eight leading characters of id and never more than half of it.
func RedactID(id string) string {
	return id[:min(8, len(id)/2)] + "..."
}
