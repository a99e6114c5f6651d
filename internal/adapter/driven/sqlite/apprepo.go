package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
	"github.com/jcnich/App-UAT-Tool/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AppStore = (*AppRepo)(nil)

// AppRepo is the SQLite implementation of the AppStore port interface.
type AppRepo struct {
	db *DB
}

// NewAppRepo creates a new AppRepo backed by the given DB.
func NewAppRepo(db *DB) *AppRepo {
	return &AppRepo{db: db}
}

// Create inserts a new app record and returns it with its assigned id.
func (r *AppRepo) Create(ctx context.Context, app model.App) (model.App, error) {
	app.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO apps (name, external_id, owner_email, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	res, err := r.db.Writer.ExecContext(ctx, query,
		app.Name, app.ExternalID, app.OwnerEmail, app.Notes,
		app.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.App{}, fmt.Errorf("insert app %q: %w", app.Name, err)
	}

	app.ID, err = res.LastInsertId()
	if err != nil {
		return model.App{}, fmt.Errorf("app insert id: %w", err)
	}

	return app, nil
}

// Get returns the app with the given id, or (nil, nil) if it does not exist.
func (r *AppRepo) Get(ctx context.Context, id int64) (*model.App, error) {
	const query = `
		SELECT id, name, external_id, owner_email, notes, created_at
		FROM apps
		WHERE id = ?
	`

	app, err := scanApp(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get app %d: %w", id, err)
	}

	return app, nil
}

// List returns all apps, newest first.
func (r *AppRepo) List(ctx context.Context) ([]model.App, error) {
	const query = `
		SELECT id, name, external_id, owner_email, notes, created_at
		FROM apps
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query apps: %w", err)
	}
	defer rows.Close()

	var apps []model.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		apps = append(apps, *app)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apps: %w", err)
	}

	return apps, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanApp(s scanner) (*model.App, error) {
	var app model.App
	var createdAt string

	err := s.Scan(&app.ID, &app.Name, &app.ExternalID, &app.OwnerEmail, &app.Notes, &createdAt)
	if err != nil {
		return nil, err
	}

	app.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &app, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
