package eventbus

import "time"

// 事件类型定义
const (
	// 登录相关事件
	EventLoginSucceeded = "login:succeeded"
	EventLoginFailed    = "login:failed"

	// 缓存相关事件
	EventCacheFilled = "cache:filled"

	// 凭据解析事件
	EventCredentialResolved      = "credential:resolved"
	EventCredentialNotRegistered = "credential:not_registered"
	EventCredentialUnavailable   = "credential:unavailable"
)

// Topics lists every credential lifecycle topic.
var Topics = []string{
	EventLoginSucceeded,
	EventLoginFailed,
	EventCacheFilled,
	EventCredentialResolved,
	EventCredentialNotRegistered,
	EventCredentialUnavailable,
}

// LoginEventData carries no secrets, only the redacted access id.
type LoginEventData struct {
	AccessID string    `json:"access_id"`
	Region   string    `json:"region"`
	Code     int       `json:"code,omitempty"`
	Msg      string    `json:"msg,omitempty"`
	At       time.Time `json:"at"`
}

type CacheEventData struct {
	AccessID string    `json:"access_id"`
	Devices  int       `json:"devices"`
	Failed   int       `json:"failed"`
	Partial  bool      `json:"partial"`
	At       time.Time `json:"at"`
}

type CredentialEventData struct {
	Address  string    `json:"address"`
	DeviceID string    `json:"device_id,omitempty"`
	Source   string    `json:"source,omitempty"` // bag, cache, refresh
	Forced   bool      `json:"forced"`
	Reason   string    `json:"reason,omitempty"` // failure kind when unavailable
	At       time.Time `json:"at"`
}
