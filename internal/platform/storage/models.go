package storage

import (
	"time"

	"gorm.io/datatypes"
)

// ConfigEntryRecord 持久化的集成配置条目
type ConfigEntryRecord struct {
	ID        string         `gorm:"primaryKey;size:64"`
	Domain    string         `gorm:"index;size:32;not null"`
	Title     string         `gorm:"size:255"`
	Address   string         `gorm:"index;size:17"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (ConfigEntryRecord) TableName() string { return "config_entries" }

// CredentialEventRecord 凭据生命周期事件日志，不含任何密钥
type CredentialEventRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	EventType string         `gorm:"index;size:64;not null" json:"event_type"`
	Address   string         `gorm:"index;size:17" json:"address,omitempty"`
	AccessID  string         `gorm:"size:32" json:"access_id,omitempty"`
	Data      datatypes.JSON `gorm:"not null" json:"data"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
}

func (CredentialEventRecord) TableName() string { return "credential_events" }
