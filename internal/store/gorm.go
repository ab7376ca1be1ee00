package store

import (
	"context"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Highscore is one identity's best score for one game.
type Highscore struct {
	ID       uint   `gorm:"primaryKey"`
	Identity string `gorm:"uniqueIndex:idx_identity_game"`
	Game     string `gorm:"uniqueIndex:idx_identity_game"`
	Score    int
}

// DB is a Postgres-backed Store.
type DB struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the highscore table.
func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Highscore{}); err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

func (s *DB) Best(ctx context.Context, identity, game string) (int, error) {
	var row Highscore
	err := s.db.WithContext(ctx).
		Where("identity = ? AND game = ?", identity, game).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Score, nil
}

func (s *DB) SetBest(ctx context.Context, identity, game string, score int) error {
	row := Highscore{Identity: identity, Game: game, Score: score}
	return s.db.WithContext(ctx).
		Where("identity = ? AND game = ?", identity, game).
		Assign(map[string]any{"score": score}).
		FirstOrCreate(&row).Error
}
