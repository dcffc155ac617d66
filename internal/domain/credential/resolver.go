package credential

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"tuya-ble-cloud/internal/domain/cloud"
	"tuya-ble-cloud/internal/domain/credential/cache"
	"tuya-ble-cloud/internal/domain/credential/model"
	"tuya-ble-cloud/internal/domain/eventbus"
	"tuya-ble-cloud/internal/platform/errors"
	"tuya-ble-cloud/internal/platform/observability"
)

// Error messages rendered by the configuration collaborator.
const (
	MsgLoginError          = "login_error"
	MsgDeviceNotRegistered = "device_not_registered"
	MsgInvalidMACAddress   = "invalid_mac_address"
)

// Logger is the logging surface the resolver needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoginClient is a cloud session that can authenticate itself.
type LoginClient interface {
	cache.Client
	GetToken(ctx context.Context) (string, *cloud.Envelope)
}

// ClientFactory builds a fresh session for a login identity.
type ClientFactory func(login model.LoginIdentity) LoginClient

// Options wires a Resolver.
type Options struct {
	Cache     *cache.Cache
	NewClient ClientFactory
	Events    eventbus.Publisher
	Logger    Logger
	Now       func() time.Time
}

// Resolver maps device addresses to pairing credentials using the cloud.
type Resolver struct {
	cache     *cache.Cache
	logins    singleflight.Group
	newClient ClientFactory
	events    eventbus.Publisher
	logger    Logger
	now       func() time.Time
}

// NewResolver validates opts and returns a Resolver.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Cache == nil {
		return nil, errors.New(errors.KindDomain, "credential.new_resolver", "cache is required")
	}
	if opts.NewClient == nil {
		return nil, errors.New(errors.KindDomain, "credential.new_resolver", "client factory is required")
	}
	if opts.Logger == nil {
		return nil, errors.New(errors.KindDomain, "credential.new_resolver", "logger is required")
	}
	if opts.Events == nil {
		opts.Events = eventbus.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		cache:     opts.Cache,
		newClient: opts.NewClient,
		events:    opts.Events,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// Cache exposes the shared credential cache.
func (r *Resolver) Cache() *cache.Cache { return r.cache }

// Login authenticates login against the cloud. With addToCache the session is
// stored in the cache, otherwise it is released before returning. Failures
// are returned as envelopes exactly as reported by the client.
func (r *Resolver) Login(ctx context.Context, login model.LoginIdentity, addToCache bool) *cloud.Envelope {
	if !login.Complete() {
		return &cloud.Envelope{Success: false, Msg: model.ErrIncompleteLogin.Error(), Kind: errors.KindAuth}
	}

	client := r.newClient(login)
	token, env := client.GetToken(ctx)
	if env != nil || token == "" {
		_ = client.Close()
		if env == nil {
			env = &cloud.Envelope{Success: false, Msg: "Authentication failed", Kind: errors.KindAuth}
		}
		r.logger.Error("Authentication failed for %s: %s", login.Redacted(), env.Msg)
		r.events.PublishAsync(eventbus.EventLoginFailed, eventbus.LoginEventData{
			AccessID: login.Redacted(), Region: login.Region, Code: env.Code, Msg: env.Msg, At: r.now(),
		})
		return env
	}

	r.logger.Debug("Successful login for API Key %s", login.Redacted())
	r.events.PublishAsync(eventbus.EventLoginSucceeded, eventbus.LoginEventData{
		AccessID: login.Redacted(), Region: login.Region, At: r.now(),
	})

	if addToCache {
		r.cache.GetOrCreate(login, client)
	} else {
		_ = client.Close()
	}

	result, _ := json.Marshal(map[string]string{"access_token": token})
	return &cloud.Envelope{Success: true, Result: result}
}

// Resolve returns the credential of the device at rawAddress.
//
// Credentials already present in bag are returned without network access
// unless force is set. Otherwise the cache entry of the bag's login, or the
// first entry that knows the address, is used, logging in and filling it when
// absent or forced. With persist, the login and credential are written into bag.
func (r *Resolver) Resolve(ctx context.Context, rawAddress string, bag model.Bag, force, persist bool) (model.DeviceCredential, error) {
	ctx, end := observability.StartSpan(ctx, "credential", "resolve")
	cred, err := r.resolve(ctx, rawAddress, bag, force, persist)
	end(err)
	return cred, err
}

func (r *Resolver) resolve(ctx context.Context, rawAddress string, bag model.Bag, force, persist bool) (model.DeviceCredential, error) {
	address, err := model.ParseAddress(rawAddress)
	if err != nil {
		return model.DeviceCredential{}, errors.Wrap(errors.KindDomain, "credential.resolve", MsgInvalidMACAddress, err)
	}
	if bag == nil {
		bag = model.MapBag{}
	}

	if !force {
		if cred, ok := r.fromBag(bag, address); ok {
			r.resolved(address, cred, "bag", force)
			return cred, nil
		}
	}

	var (
		entry *cache.Entry
		login model.LoginIdentity
	)
	if l, err := model.LoginFromBag(bag); err == nil {
		login = l
		entry, _ = r.cache.Lookup(login)
	} else if e, ok := r.cache.FindByAddress(address); ok {
		entry = e
		login = e.Login()
	}

	source := "cache"
	var loginErr, fillErr error
	if entry == nil || force {
		if !login.Complete() {
			return r.notRegistered(address, force, nil)
		}
		env := r.sharedLogin(ctx, login)
		if env.Success {
			if e, ok := r.cache.Lookup(login); ok {
				entry = e
				source = "refresh"
				if _, err := r.fillEntry(ctx, entry, force); err != nil {
					r.logger.Warn("Fill for %s failed: %v", login.Redacted(), err)
					fillErr = err
				}
			}
		} else {
			loginErr = env.Err("credential.login")
		}
	} else if !entry.Filled() {
		// A previous fill failed before storing anything.
		if _, err := r.fillEntry(ctx, entry, false); err != nil {
			r.logger.Warn("Fill for %s failed: %v", login.Redacted(), err)
			fillErr = err
		}
	}

	var (
		cred model.DeviceCredential
		ok   bool
	)
	if entry != nil {
		cred, ok = entry.Lookup(address)
	}
	if !ok {
		if cause := firstCloudFailure(fillErr, loginErr); cause != nil {
			return r.unavailable(address, force, cause)
		}
		return r.notRegistered(address, force, loginErr)
	}

	if persist {
		entry.Login().WriteTo(bag)
		cred.WriteTo(bag)
	}
	r.resolved(address, cred, source, force)
	return cred, nil
}

func (r *Resolver) fromBag(bag model.Bag, address model.Address) (model.DeviceCredential, bool) {
	cred, ok := model.CredentialFromBag(bag)
	if !ok {
		return model.DeviceCredential{}, false
	}
	if cred.Address() != "" {
		stored, err := model.ParseAddress(cred.Address().String())
		if err != nil || stored != address {
			return model.DeviceCredential{}, false
		}
	}
	return cred, true
}

func (r *Resolver) resolved(address model.Address, cred model.DeviceCredential, source string, force bool) {
	r.logger.Debug("Retrieved: %s", cred)
	r.events.PublishAsync(eventbus.EventCredentialResolved, eventbus.CredentialEventData{
		Address: address.String(), DeviceID: cred.DeviceID(), Source: source, Forced: force, At: r.now(),
	})
}

func (r *Resolver) notRegistered(address model.Address, force bool, cause error) (model.DeviceCredential, error) {
	r.events.PublishAsync(eventbus.EventCredentialNotRegistered, eventbus.CredentialEventData{
		Address: address.String(), Forced: force, At: r.now(),
	})
	msg := fmt.Sprintf("%s: %s", MsgDeviceNotRegistered, address)
	if cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, cause)
	}
	return model.DeviceCredential{}, errors.New(errors.KindNotRegistered, "credential.resolve", msg)
}

// sharedLogin logs login in and caches the session, once for all concurrent
// callers of the same identity. A caller whose ctx ends stops waiting.
func (r *Resolver) sharedLogin(ctx context.Context, login model.LoginIdentity) *cloud.Envelope {
	ch := r.logins.DoChan(login.Key(), func() (any, error) {
		return r.Login(context.WithoutCancel(ctx), login, true), nil
	})
	select {
	case <-ctx.Done():
		return &cloud.Envelope{Success: false, Msg: "login abandoned: " + ctx.Err().Error(), Kind: errors.KindTimeout}
	case res := <-ch:
		return res.Val.(*cloud.Envelope)
	}
}

// firstCloudFailure returns the first error that stems from the cloud being
// unreachable or misbehaving rather than from the account.
func firstCloudFailure(errs ...error) error {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return errors.Wrap(errors.KindTimeout, "credential.resolve", "cloud call interrupted", err)
		}
		switch errors.KindOf(err) {
		case errors.KindTimeout, errors.KindNetwork, errors.KindMalformed:
			return err
		}
	}
	return nil
}

// unavailable reports an address that could not be looked up because the
// cloud failed. The error carries the failure kind of cause.
func (r *Resolver) unavailable(address model.Address, force bool, cause error) (model.DeviceCredential, error) {
	kind := errors.KindOf(cause)
	r.logger.Warn("Credentials for %s unavailable: %v", address, cause)
	r.events.PublishAsync(eventbus.EventCredentialUnavailable, eventbus.CredentialEventData{
		Address: address.String(), Forced: force, Reason: string(kind), At: r.now(),
	})
	return model.DeviceCredential{}, &errors.Error{
		Kind:    kind,
		Op:      "credential.resolve",
		Message: fmt.Sprintf("credentials unavailable for %s", address),
		Cause:   cause,
	}
}

// fillEntry populates entry through the cache so concurrent fills collapse.
func (r *Resolver) fillEntry(ctx context.Context, entry *cache.Entry, force bool) (cache.FillResult, error) {
	res, err := r.cache.Fill(ctx, entry.Key(), force, r.fill)
	if err != nil {
		return res, err
	}
	if res.Ran {
		if res.Partial() {
			r.logger.Warn("Partial fill for %s: %d devices stored, %d skipped",
				entry.Login().Redacted(), res.Stored, res.Failed)
		}
		r.events.PublishAsync(eventbus.EventCacheFilled, eventbus.CacheEventData{
			AccessID: entry.Login().Redacted(),
			Devices:  res.Stored,
			Failed:   res.Failed,
			Partial:  res.Partial(),
			At:       r.now(),
		})
	}
	return res, nil
}

// fill lists the account's devices and fetches factory metadata for each, in
// listing order. A device whose metadata cannot be fetched is skipped.
func (r *Resolver) fill(ctx context.Context, client cache.Client) (cache.FillOutcome, error) {
	devices, env := client.ListDevices(ctx, "")
	if env != nil {
		return cache.FillOutcome{}, env.Err("credential.fill")
	}

	out := cache.FillOutcome{Credentials: make(map[model.Address]model.DeviceCredential, len(devices))}
	for _, device := range devices {
		if err := ctx.Err(); err != nil {
			return cache.FillOutcome{}, errors.Wrap(errors.KindTimeout, "credential.fill", "fill interrupted", err)
		}
		if device.ID == "" {
			continue
		}

		info, fenv := client.FactoryInfo(ctx, device.ID)
		if fenv != nil {
			r.logger.Warn("Skipping device %s: %s", device.ID, fenv.Msg)
			out.Failed++
			continue
		}
		address, err := info.Address()
		if err != nil {
			r.logger.Warn("Skipping device %s: %v", device.ID, err)
			out.Failed++
			continue
		}
		cred, err := device.Credential(address)
		if err != nil {
			r.logger.Warn("Skipping device %s: %v", device.ID, err)
			out.Failed++
			continue
		}
		out.Credentials[address] = cred
	}
	return out, nil
}

// Refresh fills the cached entry of login. Without force an already filled
// entry is left alone.
func (r *Resolver) Refresh(ctx context.Context, login model.LoginIdentity, force bool) (cache.FillResult, error) {
	entry, ok := r.cache.Lookup(login)
	if !ok {
		return cache.FillResult{}, errors.New(errors.KindDomain, "credential.refresh", "no cached session for "+login.Redacted())
	}
	return r.fillEntry(ctx, entry, force)
}

// BuildReport summarizes a BuildCache run.
type BuildReport struct {
	Attempted int `json:"attempted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Filled    int `json:"filled"`
}

// BuildCache logs in and fills an entry for every distinct complete identity,
// in order. Identities whose entry already holds credentials are skipped.
func (r *Resolver) BuildCache(ctx context.Context, identities []model.LoginIdentity) BuildReport {
	var report BuildReport
	seen := make(map[string]struct{}, len(identities))

	for _, login := range identities {
		if !login.Complete() {
			continue
		}
		key := login.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if entry, ok := r.cache.Get(key); ok && entry.Len() > 0 {
			report.Skipped++
			continue
		}

		report.Attempted++
		if env := r.sharedLogin(ctx, login); !env.Success {
			report.Failed++
			continue
		}
		entry, ok := r.cache.Get(key)
		if !ok || entry.Len() > 0 {
			continue
		}
		if _, err := r.fillEntry(ctx, entry, true); err != nil {
			r.logger.Warn("Fill for %s failed: %v", login.Redacted(), err)
			report.Failed++
			continue
		}
		report.Filled++
	}

	r.logger.Info("Cache build done: %d attempted, %d skipped, %d filled, %d failed",
		report.Attempted, report.Skipped, report.Filled, report.Failed)
	return report
}

// LoginFromCache copies the login of the first cached entry into bag.
func (r *Resolver) LoginFromCache(bag model.Bag) bool {
	login, ok := r.cache.FirstLogin()
	if !ok {
		return false
	}
	login.WriteTo(bag)
	return true
}

// CloudDevices lists cached devices not in exclude, ordered by address.
func (r *Resolver) CloudDevices(exclude map[model.Address]struct{}) []model.DiscoveredDevice {
	seen := make(map[model.Address]struct{})
	var out []model.DiscoveredDevice
	for _, snap := range r.cache.Snapshot() {
		for _, cred := range snap.Credentials {
			addr := cred.Address()
			if _, skip := exclude[addr]; skip {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, model.NewCloudDevice(addr, cred.DeviceName()))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// ManualDevice validates a user-typed address.
func (r *Resolver) ManualDevice(raw string) (model.DiscoveredDevice, error) {
	dev, err := model.NewManualDevice(raw)
	if err != nil {
		return model.DiscoveredDevice{}, errors.Wrap(errors.KindDomain, "credential.manual_device", MsgInvalidMACAddress, err)
	}
	return dev, nil
}
