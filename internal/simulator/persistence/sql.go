// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ffutop/instrlink/internal/simulator/model"
)

// SQLStorage implements persistence using a SQL database, one row per field
// in table `psu_state`.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
	panel  *model.Panel
}

// NewSQLStorage creates a new SQLStorage.
// Note: The driver (e.g., sqlite3) must be imported in main.go
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
	}
}

// Load connects to the DB and loads the saved fields over power-on defaults.
func (s *SQLStorage) Load() (*model.Panel, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	p := model.NewPanel()
	s.panel = p

	rows, err := db.Query("SELECT field, value FROM psu_state")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query state: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]model.Field, len(model.Fields))
	for _, f := range model.Fields {
		byName[f.String()] = f
	}

	for rows.Next() {
		var name string
		var val float64
		if err := rows.Scan(&name, &val); err != nil {
			continue
		}
		if f, ok := byName[name]; ok {
			p.SetValue(f, val)
		}
	}

	return p, rows.Err()
}

func (s *SQLStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS psu_state (
		field TEXT PRIMARY KEY,
		value REAL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Save writes every field in one transaction.
func (s *SQLStorage) Save(p *model.Panel) error {
	if s.db == nil {
		return fmt.Errorf("db is not open")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, f := range model.Fields {
		if err := upsert(tx, f, p.Value(f)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsert(db execer, f model.Field, val float64) error {
	query := "INSERT INTO psu_state (field, value) VALUES (?, ?) ON CONFLICT(field) DO UPDATE SET value=excluded.value"
	_, err := db.Exec(query, f.String(), val)
	return err
}

// OnWrite upserts the changed field to the DB.
func (s *SQLStorage) OnWrite(f model.Field) {
	if s.db == nil || s.panel == nil {
		return
	}
	if err := upsert(s.db, f, s.panel.Value(f)); err != nil {
		slog.Error("Failed to persist field", "field", f, "err", err)
	}
}

func (s *SQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
