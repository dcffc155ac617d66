package credential_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tuya-ble-cloud/internal/domain/cloud"
	"tuya-ble-cloud/internal/domain/credential"
	"tuya-ble-cloud/internal/domain/credential/cache"
	"tuya-ble-cloud/internal/domain/credential/model"
	"tuya-ble-cloud/internal/domain/eventbus"
	"tuya-ble-cloud/internal/platform/errors"
	"tuya-ble-cloud/internal/platform/logging"
)

// MockCloudClient 模拟云端会话
type MockCloudClient struct {
	mock.Mock
}

func (m *MockCloudClient) GetToken(ctx context.Context) (string, *cloud.Envelope) {
	args := m.Called(ctx)
	env, _ := args.Get(1).(*cloud.Envelope)
	return args.String(0), env
}

func (m *MockCloudClient) ListDevices(ctx context.Context, userID string) ([]cloud.Device, *cloud.Envelope) {
	args := m.Called(ctx, userID)
	devices, _ := args.Get(0).([]cloud.Device)
	env, _ := args.Get(1).(*cloud.Envelope)
	return devices, env
}

func (m *MockCloudClient) FactoryInfo(ctx context.Context, deviceID string) (cloud.FactoryInfo, *cloud.Envelope) {
	args := m.Called(ctx, deviceID)
	env, _ := args.Get(1).(*cloud.Envelope)
	return args.Get(0).(cloud.FactoryInfo), env
}

func (m *MockCloudClient) Close() error {
	return m.Called().Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	args   []interface{}
}

func (p *recordingPublisher) PublishAsync(topic string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if len(args) > 0 {
		p.args = append(p.args, args[0])
	} else {
		p.args = append(p.args, nil)
	}
}

func (p *recordingPublisher) last(topic string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.topics) - 1; i >= 0; i-- {
		if p.topics[i] == topic {
			return p.args[i]
		}
	}
	return nil
}

type fixture struct {
	resolver *credential.Resolver
	cache    *cache.Cache
	events   *recordingPublisher
	clients  []*MockCloudClient
	logins   int
}

func newFixture(t *testing.T, clients ...*MockCloudClient) *fixture {
	t.Helper()
	f := &fixture{cache: cache.New(), events: &recordingPublisher{}, clients: clients}
	r, err := credential.NewResolver(credential.Options{
		Cache: f.cache,
		NewClient: func(model.LoginIdentity) credential.LoginClient {
			if f.logins >= len(f.clients) {
				t.Fatalf("unexpected login #%d", f.logins+1)
			}
			c := f.clients[f.logins]
			f.logins++
			return c
		},
		Events: f.events,
		Logger: logging.NewDiscard().Tagged("Resolver"),
	})
	require.NoError(t, err)
	f.resolver = r
	return f
}

func loginBag() model.MapBag {
	return model.MapBag{
		model.KeyAccessID:     "access-id-1",
		model.KeyAccessSecret: "secret",
		model.KeyTuyaDeviceID: "",
		model.KeyRegion:       "eu",
	}
}

func lockDevice(id string) cloud.Device {
	return cloud.Device{
		ID: id, UUID: "uuid-" + id, LocalKey: "lk-" + id, Category: "ms", ProductID: "p1",
		Name: "Lock " + id, Model: "M1", ProductName: "Smart Lock",
	}
}

func healthyClient(devices []cloud.Device, macs map[string]string) *MockCloudClient {
	c := &MockCloudClient{}
	c.On("GetToken", mock.Anything).Return("tok", nil)
	c.On("ListDevices", mock.Anything, "").Return(devices, nil)
	for id, mac := range macs {
		c.On("FactoryInfo", mock.Anything, id).Return(cloud.FactoryInfo{ID: id, MAC: mac}, nil)
	}
	c.On("Close").Return(nil)
	return c
}

func TestNewResolverValidatesOptions(t *testing.T) {
	_, err := credential.NewResolver(credential.Options{})
	assert.True(t, errors.IsKind(err, errors.KindDomain))
}

func TestResolveFastPathUsesBag(t *testing.T) {
	f := newFixture(t)
	bag := loginBag()
	cred, err := model.NewDeviceCredential(model.CredentialFields{
		Address: "11:22:33:44:55:66", UUID: "u", LocalKey: "k", DeviceID: "d",
		Category: "c", ProductID: "p", DeviceName: "n", ProductModel: "m", ProductName: "pn",
	})
	require.NoError(t, err)
	cred.WriteTo(bag)

	got, err := f.resolver.Resolve(context.Background(), "112233445566", bag, false, false)
	require.NoError(t, err)
	assert.Equal(t, cred, got)
	assert.Equal(t, 0, f.logins)
}

func TestResolveInvalidAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), "zz:zz", nil, false, false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDomain))
	assert.Contains(t, err.Error(), credential.MsgInvalidMACAddress)
}

// Scenario A
func TestResolveLogsInAndFills(t *testing.T) {
	client := healthyClient([]cloud.Device{lockDevice("d1")}, map[string]string{"d1": "112233445566"})
	f := newFixture(t, client)
	bag := loginBag()

	cred, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", bag, false, true)
	require.NoError(t, err)
	assert.Equal(t, "d1", cred.DeviceID())
	assert.Equal(t, "uuid-d1", cred.UUID())
	assert.Equal(t, model.Address("11:22:33:44:55:66"), cred.Address())

	stored, ok := model.CredentialFromBag(bag)
	require.True(t, ok)
	assert.Equal(t, cred, stored)

	filled, ok := f.events.last(eventbus.EventCacheFilled).(eventbus.CacheEventData)
	require.True(t, ok)
	assert.Equal(t, 1, filled.Devices)
	assert.False(t, filled.Partial)
}

func TestResolveDoesNotRefillFilledEntry(t *testing.T) {
	client := healthyClient([]cloud.Device{lockDevice("d1")}, map[string]string{"d1": "112233445566"})
	f := newFixture(t, client)

	_, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), false, false)
	require.NoError(t, err)
	_, err = f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), false, false)
	require.NoError(t, err)
	_, err = f.resolver.Resolve(context.Background(), "AA:BB:CC:DD:EE:FF", loginBag(), false, false)
	assert.True(t, errors.IsKind(err, errors.KindNotRegistered))

	assert.Equal(t, 1, f.logins)
	client.AssertNumberOfCalls(t, "ListDevices", 1)
	client.AssertNumberOfCalls(t, "FactoryInfo", 1)
}

// Scenario B
func TestResolveUnknownAddressIsNotRegistered(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), "FF:FF:FF:FF:FF:FF", model.MapBag{}, false, false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotRegistered))
	assert.Contains(t, err.Error(), "FF:FF:FF:FF:FF:FF")
	assert.Equal(t, 0, f.logins)
	assert.NotNil(t, f.events.last(eventbus.EventCredentialNotRegistered))
}

// Scenario C
func TestLoginFailureReturnsEnvelopeUnchanged(t *testing.T) {
	failed := &cloud.Envelope{Success: false, Msg: "invalid client", Code: 1001}
	client := &MockCloudClient{}
	client.On("GetToken", mock.Anything).Return("", failed)
	client.On("Close").Return(nil)
	f := newFixture(t, client)

	login, err := model.LoginFromBag(loginBag())
	require.NoError(t, err)

	env := f.resolver.Login(context.Background(), login, true)
	assert.Same(t, failed, env)
	assert.Equal(t, "invalid client", env.Msg)
	assert.Equal(t, 1001, env.Code)
	assert.Equal(t, 0, f.cache.Len())
	client.AssertCalled(t, "Close")

	data, ok := f.events.last(eventbus.EventLoginFailed).(eventbus.LoginEventData)
	require.True(t, ok)
	assert.Equal(t, 1001, data.Code)
}

// Scenario D
func TestPartialFillKeepsOtherDevices(t *testing.T) {
	client := &MockCloudClient{}
	client.On("GetToken", mock.Anything).Return("tok", nil)
	client.On("ListDevices", mock.Anything, "").Return([]cloud.Device{lockDevice("d1"), lockDevice("d2")}, nil)
	client.On("FactoryInfo", mock.Anything, "d1").
		Return(cloud.FactoryInfo{}, &cloud.Envelope{Success: false, Msg: "Request failed: connection reset", Kind: errors.KindNetwork})
	client.On("FactoryInfo", mock.Anything, "d2").Return(cloud.FactoryInfo{ID: "d2", MAC: "aabbccddeeff"}, nil)
	f := newFixture(t, client)

	cred, err := f.resolver.Resolve(context.Background(), "aa:bb:cc:dd:ee:ff", loginBag(), false, false)
	require.NoError(t, err)
	assert.Equal(t, "d2", cred.DeviceID())

	login, _ := model.LoginFromBag(loginBag())
	entry, ok := f.cache.Lookup(login)
	require.True(t, ok)
	assert.True(t, entry.Filled())
	assert.Equal(t, 1, entry.Len())

	filled := f.events.last(eventbus.EventCacheFilled).(eventbus.CacheEventData)
	assert.True(t, filled.Partial)
	assert.Equal(t, 1, filled.Failed)
}

func TestLoginWithoutCacheReleasesClient(t *testing.T) {
	client := &MockCloudClient{}
	client.On("GetToken", mock.Anything).Return("tok", nil)
	client.On("Close").Return(nil)
	f := newFixture(t, client)

	login, _ := model.LoginFromBag(loginBag())
	env := f.resolver.Login(context.Background(), login, false)
	assert.True(t, env.Success)
	assert.Equal(t, 0, f.cache.Len())
	client.AssertNumberOfCalls(t, "Close", 1)
}

func TestLoginRejectsIncompleteIdentity(t *testing.T) {
	f := newFixture(t)
	env := f.resolver.Login(context.Background(), model.LoginIdentity{AccessID: "x"}, true)
	assert.False(t, env.Success)
	assert.Equal(t, errors.KindAuth, env.FailureKind())
	assert.Equal(t, 0, f.logins)
}

func TestForcedResolveRefillsAndReplacesSession(t *testing.T) {
	first := healthyClient([]cloud.Device{lockDevice("d1")}, map[string]string{"d1": "112233445566"})
	renamed := lockDevice("d1")
	renamed.Name = "Back Door"
	second := healthyClient([]cloud.Device{renamed}, map[string]string{"d1": "112233445566"})
	f := newFixture(t, first, second)

	_, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), false, false)
	require.NoError(t, err)

	cred, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), true, false)
	require.NoError(t, err)
	assert.Equal(t, "Back Door", cred.DeviceName())
	assert.Equal(t, 2, f.logins)
	first.AssertCalled(t, "Close")
	second.AssertNumberOfCalls(t, "ListDevices", 1)
}

func TestResolveScansCacheWithoutLogin(t *testing.T) {
	client := healthyClient([]cloud.Device{lockDevice("d1")}, map[string]string{"d1": "112233445566"})
	f := newFixture(t, client)

	_, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), false, false)
	require.NoError(t, err)

	bag := model.MapBag{}
	cred, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", bag, false, true)
	require.NoError(t, err)
	assert.Equal(t, "d1", cred.DeviceID())
	assert.True(t, model.HasLogin(bag))
	assert.Equal(t, "access-id-1", bag[model.KeyAccessID])
	assert.Equal(t, 1, f.logins)
}

func TestBuildCacheDeduplicatesAndSkipsFilled(t *testing.T) {
	a := healthyClient([]cloud.Device{lockDevice("d1")}, map[string]string{"d1": "112233445566"})
	b := healthyClient(nil, nil)
	f := newFixture(t, a, b)

	la, _ := model.NewLoginIdentity("a", "secret", "", "eu")
	lb, _ := model.NewLoginIdentity("b", "secret", "", "us")
	incomplete := model.LoginIdentity{AccessID: "c"}

	report := f.resolver.BuildCache(context.Background(), []model.LoginIdentity{la, la, incomplete, lb})
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Filled)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, f.cache.Len())

	// b has no devices, so a rebuild logs in again for b only.
	c := healthyClient(nil, nil)
	f.clients = append(f.clients, c)
	report = f.resolver.BuildCache(context.Background(), []model.LoginIdentity{la, lb})
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 3, f.logins)
	b.AssertCalled(t, "Close")
}

func TestBuildCacheCountsLoginFailures(t *testing.T) {
	client := &MockCloudClient{}
	client.On("GetToken", mock.Anything).Return("", &cloud.Envelope{Success: false, Msg: "sign invalid", Code: 1004})
	client.On("Close").Return(nil)
	f := newFixture(t, client)

	la, _ := model.NewLoginIdentity("a", "secret", "", "eu")
	report := f.resolver.BuildCache(context.Background(), []model.LoginIdentity{la})
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, f.cache.Len())
}

func TestLoginFromCacheAndCloudDevices(t *testing.T) {
	client := healthyClient(
		[]cloud.Device{lockDevice("d1"), lockDevice("d2")},
		map[string]string{"d1": "aabbccddeeff", "d2": "112233445566"},
	)
	f := newFixture(t, client)

	bag := model.MapBag{}
	assert.False(t, f.resolver.LoginFromCache(bag))

	la, _ := model.LoginFromBag(loginBag())
	f.resolver.BuildCache(context.Background(), []model.LoginIdentity{la})

	assert.True(t, f.resolver.LoginFromCache(bag))
	assert.Equal(t, "access-id-1", bag[model.KeyAccessID])

	devices := f.resolver.CloudDevices(nil)
	require.Len(t, devices, 2)
	assert.Equal(t, model.Address("11:22:33:44:55:66"), devices[0].Address)
	assert.Equal(t, "Lock d2", devices[0].Name)
	assert.Equal(t, model.SourceCloudCache, devices[0].Source)

	devices = f.resolver.CloudDevices(map[model.Address]struct{}{"11:22:33:44:55:66": {}})
	require.Len(t, devices, 1)
	assert.Equal(t, model.Address("AA:BB:CC:DD:EE:FF"), devices[0].Address)
}

func TestManualDevice(t *testing.T) {
	f := newFixture(t)
	dev, err := f.resolver.ManualDevice("11-22-33-44-55-66")
	require.NoError(t, err)
	assert.Equal(t, model.SourceManualEntry, dev.Source)

	_, err = f.resolver.ManualDevice("11:22:33")
	assert.True(t, errors.IsKind(err, errors.KindDomain))
}

func TestRefreshFillsLoggedInSession(t *testing.T) {
	client := healthyClient([]cloud.Device{lockDevice("d1")}, map[string]string{"d1": "112233445566"})
	f := newFixture(t, client)
	login, _ := model.LoginFromBag(loginBag())

	_, err := f.resolver.Refresh(context.Background(), login, false)
	assert.True(t, errors.IsKind(err, errors.KindDomain))

	require.True(t, f.resolver.Login(context.Background(), login, true).Success)
	res, err := f.resolver.Refresh(context.Background(), login, false)
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Equal(t, 1, res.Stored)

	res, err = f.resolver.Refresh(context.Background(), login, false)
	require.NoError(t, err)
	assert.False(t, res.Ran)
	client.AssertNumberOfCalls(t, "ListDevices", 1)
}

// newSharedResolver hands the same client to every login and counts sessions.
func newSharedResolver(t *testing.T, client *MockCloudClient, sessions *atomic.Int32) *credential.Resolver {
	t.Helper()
	r, err := credential.NewResolver(credential.Options{
		Cache: cache.New(),
		NewClient: func(model.LoginIdentity) credential.LoginClient {
			sessions.Add(1)
			return client
		},
		Logger: logging.NewDiscard().Tagged("Resolver"),
	})
	require.NoError(t, err)
	return r
}

func TestConcurrentColdResolvesLogInOnce(t *testing.T) {
	release := make(chan struct{})
	client := &MockCloudClient{}
	client.On("GetToken", mock.Anything).Run(func(mock.Arguments) { <-release }).Return("tok", nil)
	client.On("ListDevices", mock.Anything, "").Return([]cloud.Device{lockDevice("d1")}, nil)
	client.On("FactoryInfo", mock.Anything, "d1").Return(cloud.FactoryInfo{ID: "d1", MAC: "112233445566"}, nil)
	client.On("Close").Return(nil)

	var sessions atomic.Int32
	r := newSharedResolver(t, client, &sessions)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), false, false)
			errs <- err
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), sessions.Load())
	client.AssertNumberOfCalls(t, "GetToken", 1)
	client.AssertNumberOfCalls(t, "ListDevices", 1)
	client.AssertNotCalled(t, "Close")
}

func TestCancelledCallerDoesNotFailSharedFill(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client := &MockCloudClient{}
	client.On("GetToken", mock.Anything).Return("tok", nil)
	client.On("ListDevices", mock.Anything, "").Run(func(mock.Arguments) {
		once.Do(func() { close(entered) })
		<-release
	}).Return([]cloud.Device{lockDevice("d1")}, nil)
	client.On("FactoryInfo", mock.Anything, "d1").Return(cloud.FactoryInfo{ID: "d1", MAC: "aabbccddeeff"}, nil)
	client.On("Close").Return(nil)

	var sessions atomic.Int32
	r := newSharedResolver(t, client, &sessions)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Resolve(first, "AA:BB:CC:DD:EE:FF", loginBag(), false, false)
		firstDone <- err
	}()
	<-entered

	type result struct {
		cred model.DeviceCredential
		err  error
	}
	secondDone := make(chan result, 1)
	go func() {
		cred, err := r.Resolve(context.Background(), "AA:BB:CC:DD:EE:FF", loginBag(), false, false)
		secondDone <- result{cred, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstDone
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTimeout))

	close(release)
	got := <-secondDone
	require.NoError(t, got.err)
	assert.Equal(t, "d1", got.cred.DeviceID())
	client.AssertNumberOfCalls(t, "GetToken", 1)
	client.AssertNumberOfCalls(t, "ListDevices", 1)
}

func TestCloudFailureDuringFillIsNotNotRegistered(t *testing.T) {
	for _, kind := range []errors.Kind{errors.KindTimeout, errors.KindNetwork, errors.KindMalformed} {
		t.Run(string(kind), func(t *testing.T) {
			client := &MockCloudClient{}
			client.On("GetToken", mock.Anything).Return("tok", nil)
			client.On("ListDevices", mock.Anything, "").
				Return(nil, &cloud.Envelope{Success: false, Msg: "cloud unavailable", Kind: kind})
			client.On("Close").Return(nil)
			f := newFixture(t, client)

			_, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), false, false)
			require.Error(t, err)
			assert.Equal(t, kind, errors.KindOf(err))
			assert.NotContains(t, err.Error(), credential.MsgDeviceNotRegistered)
			assert.Nil(t, f.events.last(eventbus.EventCredentialNotRegistered))

			data, ok := f.events.last(eventbus.EventCredentialUnavailable).(eventbus.CredentialEventData)
			require.True(t, ok)
			assert.Equal(t, string(kind), data.Reason)
		})
	}
}

func TestLoginRejectionStaysNotRegistered(t *testing.T) {
	client := &MockCloudClient{}
	client.On("GetToken", mock.Anything).Return("", &cloud.Envelope{Success: false, Msg: "sign invalid", Code: 1004})
	client.On("Close").Return(nil)
	f := newFixture(t, client)

	_, err := f.resolver.Resolve(context.Background(), "11:22:33:44:55:66", loginBag(), false, false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotRegistered))
	assert.Contains(t, err.Error(), "sign invalid")
}
