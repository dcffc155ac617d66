package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginKeyIsOrderIndependent(t *testing.T) {
	a := MapBag{}
	a.Set(KeyAccessID, "id")
	a.Set(KeyAccessSecret, "secret")
	a.Set(KeyTuyaDeviceID, "dev")
	a.Set(KeyRegion, "eu")

	b := MapBag{}
	b.Set(KeyRegion, "eu")
	b.Set(KeyTuyaDeviceID, "dev")
	b.Set(KeyAccessSecret, "secret")
	b.Set(KeyAccessID, "id")

	la, err := LoginFromBag(a)
	require.NoError(t, err)
	lb, err := LoginFromBag(b)
	require.NoError(t, err)

	assert.Equal(t, la.Key(), lb.Key())
	assert.Equal(t, `{"access_id":"id","access_secret":"secret","tuya_device_id":"dev","region":"eu"}`, la.Key())
}

func TestLoginKeyDiffersPerField(t *testing.T) {
	base, err := NewLoginIdentity("id", "secret", "", "eu")
	require.NoError(t, err)
	other, err := NewLoginIdentity("id", "secret", "", "us")
	require.NoError(t, err)
	assert.NotEqual(t, base.Key(), other.Key())
}

func TestLoginFromBagRequiresAllKeys(t *testing.T) {
	bag := MapBag{KeyAccessID: "id", KeyAccessSecret: "secret", KeyRegion: "eu"}
	_, err := LoginFromBag(bag)
	assert.ErrorIs(t, err, ErrIncompleteLogin)
	assert.False(t, HasLogin(bag))

	bag.Set(KeyTuyaDeviceID, "")
	assert.True(t, HasLogin(bag))

	bag.Set(KeyAccessSecret, "")
	assert.False(t, HasLogin(bag))

	assert.False(t, HasLogin(nil))
}

func TestLoginWriteTo(t *testing.T) {
	login, err := NewLoginIdentity(" id ", "secret", "dev", "EU")
	require.NoError(t, err)
	assert.Equal(t, "eu", login.Region)

	bag := MapBag{}
	login.WriteTo(bag)
	back, err := LoginFromBag(bag)
	require.NoError(t, err)
	assert.Equal(t, login, back)
}

func TestRedactIDNeverRevealsShortIDs(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"", "..."},
		{"k", "..."},
		{"abcd", "ab..."},
		{"abcdefgh", "abcd..."},
		{"abcdefghijklmnop", "abcdefgh..."},
		{"abcdefghijklmnopqrstuvwxyz", "abcdefgh..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactID(tt.id), tt.id)
	}

	login := LoginIdentity{AccessID: "short", AccessSecret: "s", Region: "eu"}
	assert.Equal(t, "sh...", login.Redacted())
	assert.NotContains(t, login.Redacted(), "short")
}
