package migrations

import (
	"gorm.io/gorm"
)

// Migration002CredentialEvents 创建凭据事件日志表
type Migration002CredentialEvents struct{}

func (m *Migration002CredentialEvents) Version() string {
	return "002_credential_events"
}

func (m *Migration002CredentialEvents) Description() string {
	return "Create credential lifecycle event journal"
}

func (m *Migration002CredentialEvents) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credential_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(64) NOT NULL,
			address VARCHAR(17),
			access_id VARCHAR(32),
			data JSON NOT NULL,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_credential_events_event_type ON credential_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_credential_events_address ON credential_events(address)`,
		`CREATE INDEX IF NOT EXISTS idx_credential_events_created_at ON credential_events(created_at)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration002CredentialEvents) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS credential_events`).Error
}
