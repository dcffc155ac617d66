package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tuya-ble-cloud/internal/platform/storage"
)

// Journal 将凭据事件写入 credential_events 表
type Journal struct {
	db     *gorm.DB
	logger Logger
	now    func() time.Time
}

// NewJournal 创建事件日志
func NewJournal(db *gorm.DB, logger Logger) *Journal {
	return &Journal{db: db, logger: logger, now: time.Now}
}

// Subscribe 订阅所有凭据事件
func (j *Journal) Subscribe(bus *AsyncEventBus) error {
	handlers := map[string]interface{}{
		EventLoginSucceeded: func(d LoginEventData) {
			j.record(EventLoginSucceeded, "", d.AccessID, d)
		},
		EventLoginFailed: func(d LoginEventData) {
			j.record(EventLoginFailed, "", d.AccessID, d)
		},
		EventCacheFilled: func(d CacheEventData) {
			j.record(EventCacheFilled, "", d.AccessID, d)
		},
		EventCredentialResolved: func(d CredentialEventData) {
			j.record(EventCredentialResolved, d.Address, "", d)
		},
		EventCredentialNotRegistered: func(d CredentialEventData) {
			j.record(EventCredentialNotRegistered, d.Address, "", d)
		},
		EventCredentialUnavailable: func(d CredentialEventData) {
			j.record(EventCredentialUnavailable, d.Address, "", d)
		},
	}
	for _, topic := range Topics {
		if err := bus.Subscribe(topic, handlers[topic]); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) record(eventType, address, accessID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		j.logger.Error("journal: encode %s: %v", eventType, err)
		return
	}

	rec := storage.CredentialEventRecord{
		EventType: eventType,
		Address:   address,
		AccessID:  accessID,
		Data:      datatypes.JSON(data),
		CreatedAt: j.now(),
	}
	if err := j.db.Create(&rec).Error; err != nil {
		j.logger.Error("journal: persist %s: %v", eventType, err)
	}
}

// Recent 按时间倒序返回最近的事件，address 为空时不过滤
func (j *Journal) Recent(ctx context.Context, address string, limit int) ([]storage.CredentialEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := j.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit)
	if address != "" {
		q = q.Where("address = ?", address)
	}
	var records []storage.CredentialEventRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
