// Package directory is the read side of the family member list the water planner works from.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/korjavin/familyorganizer/pkg/models"
)

// ErrNotFound is returned when a member id is unknown
var ErrNotFound = errors.New("member not found")

// Directory lists the members of the current family
type Directory interface {
	Members(ctx context.Context) ([]models.Member, error)
	Get(ctx context.Context, id string) (*models.Member, error)
}

// Writer is a Directory that accepts synced members
type Writer interface {
	Directory
	Upsert(ctx context.Context, member models.Member) error
}

// BirthDateLayout is the stored and accepted birth date format
const BirthDateLayout = "2006-01-02"

// SQLite is a local mirror of the family member table
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the member mirror at path
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=8000", path)
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)
	database.SetConnMaxLifetime(0)
	database.SetConnMaxIdleTime(30 * time.Second)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS family_members (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			birth_date TEXT,
			weight_kg REAL
		)
	`); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("create family_members: %w", err)
	}

	return &SQLite{db: database}, nil
}

// Close closes the database
func (d *SQLite) Close() error {
	return d.db.Close()
}

// Members returns every member ordered by name
func (d *SQLite) Members(ctx context.Context) ([]models.Member, error) {
	rows, err := d.db.QueryContext(
		ctx,
		`SELECT id, name, birth_date, weight_kg
		 FROM family_members
		 ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// Get returns a single member
func (d *SQLite) Get(ctx context.Context, id string) (*models.Member, error) {
	row := d.db.QueryRowContext(
		ctx,
		`SELECT id, name, birth_date, weight_kg
		 FROM family_members
		 WHERE id = ?`,
		id,
	)
	member, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return member, err
}

// Upsert writes a member into the mirror. Used when syncing from the remote family database.
func (d *SQLite) Upsert(ctx context.Context, member models.Member) error {
	var birth sql.NullString
	if member.BirthDate != nil {
		birth = sql.NullString{String: member.BirthDate.Format(BirthDateLayout), Valid: true}
	}
	var weight sql.NullFloat64
	if member.WeightKg != nil {
		weight = sql.NullFloat64{Float64: *member.WeightKg, Valid: true}
	}

	_, err := d.db.ExecContext(
		ctx,
		`INSERT INTO family_members (id, name, birth_date, weight_kg)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   birth_date = excluded.birth_date,
		   weight_kg = excluded.weight_kg`,
		member.ID,
		member.Name,
		birth,
		weight,
	)
	if err != nil {
		return fmt.Errorf("upsert member %s: %w", member.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(row scanner) (*models.Member, error) {
	var member models.Member
	var birth sql.NullString
	var weight sql.NullFloat64
	if err := row.Scan(&member.ID, &member.Name, &birth, &weight); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}

	if birth.Valid && birth.String != "" {
		parsed, err := time.Parse(BirthDateLayout, birth.String)
		if err != nil {
			return nil, fmt.Errorf("parse birth_date of %s: %w", member.ID, err)
		}
		member.BirthDate = &parsed
	}
	if weight.Valid {
		w := weight.Float64
		member.WeightKg = &w
	}
	return &member, nil
}

// Static is a fixed in-memory directory
type Static []models.Member

// Members returns the fixed list
func (s Static) Members(ctx context.Context) ([]models.Member, error) {
	return append([]models.Member(nil), s...), nil
}

// Get returns the member with id
func (s Static) Get(ctx context.Context, id string) (*models.Member, error) {
	for _, m := range s {
		if m.ID == id {
			member := m
			return &member, nil
		}
	}
	return nil, ErrNotFound
}
