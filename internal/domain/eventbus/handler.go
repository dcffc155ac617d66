package eventbus

// InfoLogger is the logger used by the logging subscriber.
type InfoLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SubscribeLogging 订阅所有凭据事件并写日志
func SubscribeLogging(bus *AsyncEventBus, logger InfoLogger) error {
	handlers := map[string]interface{}{
		EventLoginSucceeded: func(d LoginEventData) {
			logger.Info("login ok for %s (%s)", d.AccessID, d.Region)
		},
		EventLoginFailed: func(d LoginEventData) {
			logger.Warn("login failed for %s: %s (code %d)", d.AccessID, d.Msg, d.Code)
		},
		EventCacheFilled: func(d CacheEventData) {
			if d.Partial {
				logger.Warn("cache filled for %s with %d devices, %d skipped", d.AccessID, d.Devices, d.Failed)
				return
			}
			logger.Info("cache filled for %s with %d devices", d.AccessID, d.Devices)
		},
		EventCredentialResolved: func(d CredentialEventData) {
			logger.Info("credentials for %s resolved from %s", d.Address, d.Source)
		},
		EventCredentialNotRegistered: func(d CredentialEventData) {
			logger.Warn("device %s is not registered in any account", d.Address)
		},
		EventCredentialUnavailable: func(d CredentialEventData) {
			logger.Warn("credentials for %s unavailable: cloud %s failure", d.Address, d.Reason)
		},
	}
	for _, topic := range Topics {
		if err := bus.Subscribe(topic, handlers[topic]); err != nil {
			return err
		}
	}
	return nil
}
