package db

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pablintino/deploy-executor/internal/config"
)

const databaseDriverName = "postgres"

type Database interface {
	Runs() RunsDb
}

type SqlDatabase struct {
	db     *sqlx.DB
	config *config.DatabaseConfig
	runsDb *sqlRunsDb
}

func NewSQLDatabase(config *config.DatabaseConfig) (*SqlDatabase, error) {
	db, err := connect(config)
	if err != nil {
		return nil, err
	}
	driver := config.Driver
	if driver == "" {
		driver = databaseDriverName
	}
	dbX := sqlx.NewDb(db, driver)
	return &SqlDatabase{
		db:     dbX,
		runsDb: newSqlRunsDb(dbX),
		config: config,
	}, nil
}

func (s *SqlDatabase) Runs() RunsDb {
	return s.runsDb
}

func connect(config *config.DatabaseConfig) (*sql.DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = databaseDriverName
	}
	db, err := sql.Open(driver, config.DataSource)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}
