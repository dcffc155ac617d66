package migrations

import (
	"gorm.io/gorm"
)

// Migration001ConfigEntries 创建配置条目表
type Migration001ConfigEntries struct{}

func (m *Migration001ConfigEntries) Version() string {
	return "001_config_entries"
}

func (m *Migration001ConfigEntries) Description() string {
	return "Create config entry table for cloud and BLE integrations"
}

func (m *Migration001ConfigEntries) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS config_entries (
			id VARCHAR(64) PRIMARY KEY,
			domain VARCHAR(32) NOT NULL,
			title VARCHAR(255),
			address VARCHAR(17),
			data JSON NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_config_entries_domain ON config_entries(domain)`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_config_entries_address ON config_entries(address)`).Error
}

func (m *Migration001ConfigEntries) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS config_entries`).Error
}
