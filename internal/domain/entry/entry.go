package entry

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tuya-ble-cloud/internal/domain/credential/model"
)

// Domain names the integration an entry belongs to.
type Domain string

const (
	// DomainCloud entries come from the Tuya cloud integration.
	DomainCloud Domain = "tuya"
	// DomainBLE entries are configured BLE devices.
	DomainBLE Domain = "tuya_ble"
)

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	return d == DomainCloud || d == DomainBLE
}

// Entry is one persisted integration configuration.
type Entry struct {
	ID        string            `json:"id"`
	Domain    Domain            `json:"domain"`
	Title     string            `json:"title"`
	Address   string            `json:"address,omitempty"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RedactedValue replaces secret data values in API output.
const RedactedValue = "**REDACTED**"

// secretKeys are data keys whose values never leave the registry unmasked.
var secretKeys = []string{model.KeyAccessSecret, model.KeyLocalKey}

// Redacted returns a copy of e with secret data values masked.
func (e Entry) Redacted() Entry {
	e = cloneEntry(e)
	for _, key := range secretKeys {
		if e.Data[key] != "" {
			e.Data[key] = RedactedValue
		}
	}
	return e
}

// prepare fills ID and timestamps before a save.
func (e *Entry) prepare(now time.Time) {
	if e.ID == "" {
		e.ID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Data == nil {
		e.Data = map[string]string{}
	}
}

// Bag exposes the entry data to the resolver. Writes land in e.Data.
func (e *Entry) Bag() model.MapBag {
	if e.Data == nil {
		e.Data = map[string]string{}
	}
	return model.MapBag(e.Data)
}

// Login returns the login identity stored in the entry, if complete.
func (e Entry) Login() (model.LoginIdentity, bool) {
	login, err := model.LoginFromBag(model.MapBag(e.Data))
	return login, err == nil
}

// Identities lists the login identities of all entries: cloud integration
// entries first, then BLE entries, each in creation order.
func Identities(ctx context.Context, store Store) ([]model.LoginIdentity, error) {
	var out []model.LoginIdentity
	for _, domain := range []Domain{DomainCloud, DomainBLE} {
		entries, err := store.List(ctx, domain)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if login, ok := e.Login(); ok {
				out = append(out, login)
			}
		}
	}
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

func cloneEntry(e Entry) Entry {
	data := make(map[string]string, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	e.Data = data
	return e
}
