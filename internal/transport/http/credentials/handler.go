package credentials

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tuya-ble-cloud/internal/domain/cloud"
	"tuya-ble-cloud/internal/domain/credential"
	"tuya-ble-cloud/internal/domain/credential/cache"
	"tuya-ble-cloud/internal/domain/credential/model"
	"tuya-ble-cloud/internal/domain/entry"
	"tuya-ble-cloud/internal/platform/errors"
	"tuya-ble-cloud/internal/platform/logging"
	"tuya-ble-cloud/internal/platform/storage"
	httptransport "tuya-ble-cloud/internal/transport/http"
)

// Resolver is the credential resolver surface the handlers use.
type Resolver interface {
	Login(ctx context.Context, login model.LoginIdentity, addToCache bool) *cloud.Envelope
	Refresh(ctx context.Context, login model.LoginIdentity, force bool) (cache.FillResult, error)
	Resolve(ctx context.Context, rawAddress string, bag model.Bag, force, persist bool) (model.DeviceCredential, error)
	BuildCache(ctx context.Context, identities []model.LoginIdentity) credential.BuildReport
	CloudDevices(exclude map[model.Address]struct{}) []model.DiscoveredDevice
	ManualDevice(raw string) (model.DiscoveredDevice, error)
	LoginFromCache(bag model.Bag) bool
}

// EventJournal reads recorded credential events.
type EventJournal interface {
	Recent(ctx context.Context, address string, limit int) ([]storage.CredentialEventRecord, error)
}

// Error messages for cloud failures while resolving credentials.
const (
	msgCloudTimeout     = "cloud_timeout"
	msgCloudUnavailable = "cloud_unavailable"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// TokenIssuer issues operator tokens.
type TokenIssuer interface {
	GenerateToken(operator string) (string, time.Time, error)
}

// Options wires the credential HTTP service.
type Options struct {
	Resolver Resolver
	Entries  entry.Store
	Logger   *logging.Logger
	// Issuer and Secret are only set when operator auth is enabled.
	Issuer TokenIssuer
	Secret string
	// DefaultRegion applies to login requests without a region.
	DefaultRegion string
	// Journal enables the event history route when set.
	Journal EventJournal
}

// Service exposes the resolver and the entry registry over HTTP.
type Service struct {
	resolver Resolver
	entries  entry.Store
	logger   *logging.TaggedLogger
	issuer   TokenIssuer
	secret   string
	region   string
	journal  EventJournal
}

// NewService validates opts and returns the service.
func NewService(opts Options) (*Service, error) {
	if opts.Resolver == nil {
		return nil, errors.New(errors.KindConfig, "credentials.new", "resolver is required")
	}
	if opts.Entries == nil {
		return nil, errors.New(errors.KindConfig, "credentials.new", "entry store is required")
	}
	if opts.Logger == nil {
		return nil, errors.New(errors.KindConfig, "credentials.new", "logger is required")
	}
	return &Service{
		resolver: opts.Resolver,
		entries:  opts.Entries,
		logger:   opts.Logger.Tagged("HTTP"),
		issuer:   opts.Issuer,
		secret:   opts.Secret,
		region:   opts.DefaultRegion,
		journal:  opts.Journal,
	}, nil
}

// Register 注册凭据相关路由
func (s *Service) Register(router *httptransport.Router) {
	router.API.GET("/regions", s.handleRegions)
	if s.issuer != nil {
		router.API.POST("/auth/token", s.handleIssueToken)
	}

	r := router.Secured
	r.POST("/login", s.handleLogin)
	r.POST("/cache/build", s.handleBuildCache)
	r.GET("/devices", s.handleDevices)
	r.POST("/devices/manual", s.handleManualDevice)
	r.GET("/devices/:address/credentials", s.handleCredentials)

	r.GET("/entries", s.handleListEntries)
	r.POST("/entries", s.handleCreateEntry)
	r.GET("/entries/:id", s.handleGetEntry)
	r.DELETE("/entries/:id", s.handleDeleteEntry)

	if s.journal != nil {
		r.GET("/events", s.handleEvents)
	}
}

func (s *Service) handleRegions(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, cloud.Regions(), "")
}

type tokenRequest struct {
	Operator string `json:"operator" binding:"required"`
}

func (s *Service) handleIssueToken(c *gin.Context) {
	given := c.GetHeader(httptransport.AuthSecretHeader)
	if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(s.secret)) != 1 {
		httptransport.RespondError(c, http.StatusUnauthorized, "invalid secret", nil)
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid request format", nil)
		return
	}

	token, expires, err := s.issuer.GenerateToken(req.Operator)
	if err != nil {
		s.logger.Error("issue token for %s: %v", req.Operator, err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to issue token", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires.UTC(),
	}, "")
}

type loginRequest struct {
	AccessID     string `json:"access_id"`
	AccessSecret string `json:"access_secret"`
	DeviceID     string `json:"tuya_device_id"`
	Region       string `json:"region"`
}

func (s *Service) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid request format", nil)
		return
	}

	if strings.TrimSpace(req.Region) == "" {
		req.Region = s.region
	}
	login, err := model.NewLoginIdentity(req.AccessID, req.AccessSecret, req.DeviceID, req.Region)
	if err != nil {
		respondLoginError(c, &cloud.Envelope{Msg: err.Error()})
		return
	}

	ctx := c.Request.Context()
	env := s.resolver.Login(ctx, login, true)
	if !env.Success {
		respondLoginError(c, env)
		return
	}

	res, err := s.resolver.Refresh(ctx, login, false)
	if err != nil {
		s.logger.Warn("fill after login for %s: %v", login.Redacted(), err)
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"access_id": login.Redacted(),
		"region":    login.Region,
		"devices":   res.Stored,
		"skipped":   res.Failed,
	}, "")
}

// respondLoginError renders the login_error message with the cloud code and msg as placeholders.
func respondLoginError(c *gin.Context, env *cloud.Envelope) {
	httptransport.RespondError(c, http.StatusBadRequest, credential.MsgLoginError, gin.H{
		"error": credential.MsgLoginError,
		"placeholders": gin.H{
			"code": env.Code,
			"msg":  env.Msg,
		},
	})
}

func (s *Service) handleBuildCache(c *gin.Context) {
	ctx := c.Request.Context()
	identities, err := entry.Identities(ctx, s.entries)
	if err != nil {
		s.logger.Error("list identities: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to list entries", nil)
		return
	}
	report := s.resolver.BuildCache(ctx, identities)
	httptransport.RespondSuccess(c, http.StatusOK, report, "")
}

func (s *Service) handleDevices(c *gin.Context) {
	exclude := make(map[model.Address]struct{})
	for _, raw := range strings.Split(c.Query("exclude"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		if addr, err := model.ParseAddress(raw); err == nil {
			exclude[addr] = struct{}{}
		}
	}
	devices := s.resolver.CloudDevices(exclude)
	if devices == nil {
		devices = []model.DiscoveredDevice{}
	}
	httptransport.RespondSuccess(c, http.StatusOK, devices, "")
}

type manualRequest struct {
	Address string `json:"address" binding:"required"`
}

func (s *Service) handleManualDevice(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid request format", nil)
		return
	}
	dev, err := s.resolver.ManualDevice(req.Address)
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, credential.MsgInvalidMACAddress,
			gin.H{"error": credential.MsgInvalidMACAddress})
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, dev, "")
}

func (s *Service) handleCredentials(c *gin.Context) {
	ctx := c.Request.Context()
	raw := c.Param("address")
	force := queryBool(c, "force")
	persist := queryBool(c, "persist")

	var (
		bag   model.Bag = model.MapBag{}
		saved *entry.Entry
	)
	if id := c.Query("entry_id"); id != "" {
		e, err := s.entries.Get(ctx, id)
		if err != nil {
			s.respondEntryError(c, err)
			return
		}
		saved = &e
		bag = e.Bag()
	}

	cred, err := s.resolver.Resolve(ctx, raw, bag, force, persist)
	if err != nil {
		address := raw
		if addr, perr := model.ParseAddress(raw); perr == nil {
			address = addr.String()
		}
		switch errors.KindOf(err) {
		case errors.KindDomain:
			httptransport.RespondError(c, http.StatusBadRequest, credential.MsgInvalidMACAddress,
				gin.H{"error": credential.MsgInvalidMACAddress})
		case errors.KindNotRegistered:
			httptransport.RespondError(c, http.StatusNotFound, credential.MsgDeviceNotRegistered, gin.H{
				"error":   credential.MsgDeviceNotRegistered,
				"address": address,
			})
		case errors.KindTimeout:
			s.logger.Warn("resolve %s: %v", address, err)
			httptransport.RespondError(c, http.StatusGatewayTimeout, msgCloudTimeout, gin.H{
				"error":   msgCloudTimeout,
				"address": address,
			})
		case errors.KindNetwork, errors.KindMalformed:
			s.logger.Warn("resolve %s: %v", address, err)
			httptransport.RespondError(c, http.StatusBadGateway, msgCloudUnavailable, gin.H{
				"error":   msgCloudUnavailable,
				"address": address,
			})
		default:
			s.logger.Error("resolve %s: %v", raw, err)
			httptransport.RespondError(c, http.StatusInternalServerError, "failed to resolve credentials", nil)
		}
		return
	}

	if persist && saved != nil {
		saved.Address = cred.Address().String()
		if _, err := s.entries.Save(ctx, *saved); err != nil {
			s.logger.Error("persist credentials into entry %s: %v", saved.ID, err)
			httptransport.RespondError(c, http.StatusInternalServerError, "failed to update entry", nil)
			return
		}
	}
	httptransport.RespondSuccess(c, http.StatusOK, cred.Fields(), "")
}

func (s *Service) handleListEntries(c *gin.Context) {
	domain := entry.Domain(c.Query("domain"))
	if domain != "" && !domain.Valid() {
		httptransport.RespondError(c, http.StatusBadRequest, "unknown domain", nil)
		return
	}
	entries, err := s.entries.List(c.Request.Context(), domain)
	if err != nil {
		s.respondEntryError(c, err)
		return
	}
	out := make([]entry.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Redacted())
	}
	httptransport.RespondSuccess(c, http.StatusOK, out, "")
}

type entryRequest struct {
	Domain  entry.Domain      `json:"domain" binding:"required"`
	Title   string            `json:"title"`
	Address string            `json:"address"`
	Data    map[string]string `json:"data"`
}

func (s *Service) handleCreateEntry(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid request format", nil)
		return
	}
	if !req.Domain.Valid() {
		httptransport.RespondError(c, http.StatusBadRequest, "unknown domain", nil)
		return
	}

	e := entry.Entry{Domain: req.Domain, Title: req.Title, Data: req.Data}
	if req.Address != "" {
		addr, err := model.ParseAddress(req.Address)
		if err != nil {
			httptransport.RespondError(c, http.StatusBadRequest, credential.MsgInvalidMACAddress,
				gin.H{"error": credential.MsgInvalidMACAddress})
			return
		}
		e.Address = addr.String()
	}
	// BLE entries without their own login reuse the first cached session.
	if e.Domain == entry.DomainBLE && !model.HasLogin(e.Bag()) {
		if s.resolver.LoginFromCache(e.Bag()) {
			s.logger.Info("entry %q takes its login from the cache", e.Title)
		}
	}

	saved, err := s.entries.Save(c.Request.Context(), e)
	if err != nil {
		s.respondEntryError(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusCreated, saved.Redacted(), "")
}

func (s *Service) handleGetEntry(c *gin.Context) {
	e, err := s.entries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondEntryError(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, e.Redacted(), "")
}

func (s *Service) handleDeleteEntry(c *gin.Context) {
	if err := s.entries.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondEntryError(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, nil, "deleted")
}

func (s *Service) respondEntryError(c *gin.Context, err error) {
	if stderrors.Is(err, entry.ErrNotFound) {
		httptransport.RespondError(c, http.StatusNotFound, "entry not found", nil)
		return
	}
	s.logger.Error("entry store: %v", err)
	httptransport.RespondError(c, http.StatusInternalServerError, "entry store failure", nil)
}

func (s *Service) handleEvents(c *gin.Context) {
	var address string
	if raw := c.Query("address"); raw != "" {
		addr, err := model.ParseAddress(raw)
		if err != nil {
			httptransport.RespondError(c, http.StatusBadRequest, credential.MsgInvalidMACAddress,
				gin.H{"error": credential.MsgInvalidMACAddress})
			return
		}
		address = addr.String()
	}

	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = min(n, maxEventLimit)
	}

	records, err := s.journal.Recent(c.Request.Context(), address, limit)
	if err != nil {
		s.logger.Error("read event journal: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to read events", nil)
		return
	}
	if records == nil {
		records = []storage.CredentialEventRecord{}
	}
	httptransport.RespondSuccess(c, http.StatusOK, records, "")
}

func queryBool(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}
