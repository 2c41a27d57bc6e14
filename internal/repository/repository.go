package repository

import (
	"context"
	"database/sql"
	"time"

	"water_monitor/internal/logger"
	"water_monitor/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.Operator, error)
}

// EventRepo is the append-only command journal.
type EventRepo interface {
	Append(ctx context.Context, e models.CommandEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.CommandEvent, error)
}

type Repository struct {
	Nodes     *NodeSQLite
	EventRepo EventRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB, log *logger.Logger) *Repository {
	return &Repository{
		Nodes:     NewNodeSQLite(db, log),
		EventRepo: NewEventSQLite(db),
		Auth:      NewOperatorRepository(db),
	}
}
