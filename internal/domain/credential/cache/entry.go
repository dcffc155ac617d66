package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"tuya-ble-cloud/internal/domain/cloud"
	"tuya-ble-cloud/internal/domain/credential/model"
)

// Client is the cloud session held by an entry.
type Client interface {
	ListDevices(ctx context.Context, userID string) ([]cloud.Device, *cloud.Envelope)
	FactoryInfo(ctx context.Context, deviceID string) (cloud.FactoryInfo, *cloud.Envelope)
	Close() error
}

// Entry binds one login identity to its cloud session and the credentials
// discovered through it.
type Entry struct {
	key       string
	createdAt time.Time

	mu          sync.RWMutex
	client      Client
	login       model.LoginIdentity
	credentials map[model.Address]model.DeviceCredential
	filled      bool
	filledAt    time.Time
}

func newEntry(login model.LoginIdentity, client Client, now time.Time) *Entry {
	return &Entry{
		key:         login.Key(),
		createdAt:   now,
		client:      client,
		login:       login,
		credentials: make(map[model.Address]model.DeviceCredential),
	}
}

func (e *Entry) Key() string { return e.key }

func (e *Entry) CreatedAt() time.Time { return e.createdAt }

func (e *Entry) Login() model.LoginIdentity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.login
}

func (e *Entry) Client() Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Lookup returns the credential stored for address.
func (e *Entry) Lookup(address model.Address) (model.DeviceCredential, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cred, ok := e.credentials[address]
	return cred, ok
}

// Len is the number of stored credentials.
func (e *Entry) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.credentials)
}

// Filled reports whether a fill has completed since the entry was created.
func (e *Entry) Filled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filled
}

func (e *Entry) FilledAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filledAt
}

// Credentials returns the stored credentials ordered by address.
func (e *Entry) Credentials() []model.DeviceCredential {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.DeviceCredential, 0, len(e.credentials))
	for _, cred := range e.credentials {
		out = append(out, cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// rebind swaps the session and login after a re-login and returns the old session.
func (e *Entry) rebind(login model.LoginIdentity, client Client) Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.client
	e.client = client
	e.login = login
	return old
}

// store merges creds into the map and marks the entry filled.
func (e *Entry) store(creds map[model.Address]model.DeviceCredential, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for addr, cred := range creds {
		e.credentials[addr] = cred
	}
	e.filled = true
	e.filledAt = now
}
