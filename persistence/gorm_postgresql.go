// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
)

// GormPostgreSQL is the GORM implementation of Database.
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL connects to PostgreSQL through GORM and migrates the
// tables.
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormStore(db)
}

// NewGormStore wraps an open GORM handle and migrates the tables.
func NewGormStore(db *gorm.DB) (*GormPostgreSQL, error) {
	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return &GormPostgreSQL{db: db}, nil
}

// EventModel is one row of the event log.
type EventModel struct {
	ID         uint           `gorm:"primaryKey"`
	GameID     string         `gorm:"uniqueIndex:idx_event_game_seq;size:64;not null"`
	Seq        int64          `gorm:"uniqueIndex:idx_event_game_seq;not null"`
	EventID    string         `gorm:"uniqueIndex;size:64;not null"`
	EventType  string         `gorm:"size:64;not null"`
	OccurredAt time.Time      `gorm:"not null"`
	Data       datatypes.JSON `gorm:"not null"`
}

// TableName keeps ORM rows apart from SQLStore's tables.
func (EventModel) TableName() string { return "game_events_orm" }

// SnapshotModel is the latest projection of a game.
type SnapshotModel struct {
	GameID    string         `gorm:"primaryKey;size:64"`
	RoomCode  string         `gorm:"index;size:16;not null"`
	Status    string         `gorm:"size:32;not null"`
	Version   int            `gorm:"not null"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps ORM rows apart from SQLStore's tables.
func (SnapshotModel) TableName() string { return "game_snapshots_orm" }

// autoMigrate creates or updates the tables.
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventModel{},
		&SnapshotModel{},
	)
}

// SaveEvent appends one event.
func (p *GormPostgreSQL) SaveEvent(ctx context.Context, evt events.Event) error {
	return p.SaveEvents(ctx, []events.Event{evt})
}

// SaveEvents appends evts in one transaction.
func (p *GormPostgreSQL) SaveEvents(ctx context.Context, evts []events.Event) error {
	records := make([]events.Record, 0, len(evts))
	for _, evt := range evts {
		rec, err := events.ToRecord(evt)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			var existing EventModel
			result := tx.Where("event_id = ?", rec.EventID).First(&existing)
			if result.Error == nil {
				if existing.GameID != rec.GameID || !sameDocument(existing.Data, rec.Data) {
					return events.ErrImmutableEvent
				}
				continue
			} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return result.Error
			}

			var seq int64
			if err := tx.Model(&EventModel{}).
				Where("game_id = ?", rec.GameID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&seq).Error; err != nil {
				return err
			}
			row := EventModel{
				GameID:     rec.GameID,
				Seq:        seq + 1,
				EventID:    rec.EventID,
				EventType:  string(rec.Type),
				OccurredAt: rec.Timestamp,
				Data:       datatypes.JSON(rec.Data),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("save events", err)
}

// GetEvents returns a game's full log.
func (p *GormPostgreSQL) GetEvents(ctx context.Context, gameID string) ([]events.Event, error) {
	return p.GetEventsSince(ctx, gameID, 0)
}

// GetEventsSince returns the events after the first version.
func (p *GormPostgreSQL) GetEventsSince(ctx context.Context, gameID string, version int) ([]events.Event, error) {
	var rows []EventModel
	if err := p.db.WithContext(ctx).
		Where("game_id = ? AND seq > ?", gameID, version).
		Order("seq").
		Find(&rows).Error; err != nil {
		return nil, wrap("get events", err)
	}
	docs := make([][]byte, len(rows))
	for i, row := range rows {
		docs[i] = row.Data
	}
	return decodeEvents(gameID, docs)
}

// SaveSnapshot upserts the snapshot unless a newer version is stored.
func (p *GormPostgreSQL) SaveSnapshot(ctx context.Context, g *models.Game) error {
	data, err := encodeSnapshot(g)
	if err != nil {
		return err
	}
	row := SnapshotModel{
		GameID:   g.ID,
		RoomCode: g.RoomCode,
		Status:   string(g.Status),
		Version:  g.Version,
		Data:     datatypes.JSON(data),
	}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"room_code", "status", "version", "data", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "game_snapshots_orm.version <= excluded.version"},
		}},
	}).Create(&row).Error
	return wrap("save snapshot", err)
}

// GetSnapshot returns the latest snapshot of a game.
func (p *GormPostgreSQL) GetSnapshot(ctx context.Context, gameID string) (*models.Game, error) {
	var row SnapshotModel
	if err := p.db.WithContext(ctx).Where("game_id = ?", gameID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, wrap("get snapshot", err)
	}
	return decodeSnapshot(row.Data)
}

// GetByRoomCode returns the most recently saved game with the room code.
func (p *GormPostgreSQL) GetByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	var row SnapshotModel
	if err := p.db.WithContext(ctx).
		Where("room_code = ?", roomCode).
		Order("updated_at DESC").
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, wrap("get by room code", err)
	}
	return decodeSnapshot(row.Data)
}

// DeleteGame removes the log and snapshot in one transaction.
func (p *GormPostgreSQL) DeleteGame(ctx context.Context, gameID string) error {
	var affected int64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("game_id = ?", gameID).Delete(&EventModel{})
		if res.Error != nil {
			return res.Error
		}
		affected += res.RowsAffected
		res = tx.Where("game_id = ?", gameID).Delete(&SnapshotModel{})
		if res.Error != nil {
			return res.Error
		}
		affected += res.RowsAffected
		return nil
	})
	if err != nil {
		return wrap("delete game", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close closes the underlying connection pool.
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
