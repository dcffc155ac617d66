package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tuya-ble-cloud/internal/platform/storage"
)

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a SQLite-backed entry store. The schema is created by
// storage.Open.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Save(ctx context.Context, e Entry) (Entry, error) {
	if e.ID != "" && e.CreatedAt.IsZero() {
		if prev, err := s.Get(ctx, e.ID); err == nil {
			e.CreatedAt = prev.CreatedAt
		}
	}
	e.prepare(time.Now())

	data, err := json.Marshal(e.Data)
	if err != nil {
		return Entry{}, err
	}
	record := &storage.ConfigEntryRecord{
		ID:        e.ID,
		Domain:    string(e.Domain),
		Title:     e.Title,
		Address:   e.Address,
		Data:      data,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"domain", "title", "address", "data", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return Entry{}, err
	}
	return cloneEntry(e), nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Entry, error) {
	var record storage.ConfigEntryRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, err
	}
	return fromRecord(record)
}

func (s *sqliteStore) List(ctx context.Context, domain Domain) ([]Entry, error) {
	query := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if domain != "" {
		query = query.Where("domain = ?", string(domain))
	}
	var records []storage.ConfigEntryRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		e, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&storage.ConfigEntryRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}

func fromRecord(r storage.ConfigEntryRecord) (Entry, error) {
	e := Entry{
		ID:        r.ID,
		Domain:    Domain(r.Domain),
		Title:     r.Title,
		Address:   r.Address,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Data:      map[string]string{},
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &e.Data); err != nil {
			return Entry{}, fmt.Errorf("decode entry %s: %w", r.ID, err)
		}
	}
	return e, nil
}
