package repository

import (
	"github.com/jmoiron/sqlx"

	"github.com/flexops/flexops/internal/task/repository/sqlite"
)

// Provide creates the SQL repository using separate writer and reader pools.
func Provide(writer, reader *sqlx.DB) (*sqlite.Repository, func() error, error) {
	repo, err := sqlite.NewWithDB(writer, reader)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}

// Compile-time check that the SQL implementation satisfies the interface.
var _ Repository = (*sqlite.Repository)(nil)
