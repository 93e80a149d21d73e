// Package postgis provides the persistent anchor lookup collaborator,
// backed by PostGIS geography queries.
package postgis

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kass/go-geo-anchor/pkg/models"
)

// AnchorStore stores anchors in PostGIS and answers radius lookups with
// ST_DWithin over geography, so radii are real meters.
type AnchorStore struct {
	db *sql.DB
}

// NewAnchorStore opens a PostGIS connection.
func NewAnchorStore(host, user, password, dbname string, port int) (*AnchorStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &AnchorStore{db: db}, nil
}

// InitSchema creates the anchors table, dropping any existing one.
func (s *AnchorStore) InitSchema() error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,

		`DROP TABLE IF EXISTS anchors;`,

		`CREATE TABLE anchors (
			id             TEXT PRIMARY KEY,
			creator_lat    DOUBLE PRECISION NOT NULL,
			creator_lon    DOUBLE PRECISION NOT NULL,
			creator_height DOUBLE PRECISION NOT NULL,
			enu_east       DOUBLE PRECISION NOT NULL,
			enu_north      DOUBLE PRECISION NOT NULL,
			enu_up         DOUBLE PRECISION NOT NULL,
			object_height  DOUBLE PRECISION NOT NULL,
			object         GEOGRAPHY(POINT, 4326) NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}

	return nil
}

// CreateSpatialIndex creates a GIST index on the object column.
func (s *AnchorStore) CreateSpatialIndex() error {
	if _, err := s.db.Exec(`CREATE INDEX idx_anchors_object ON anchors USING GIST(object);`); err != nil {
		return fmt.Errorf("failed to create spatial index: %w", err)
	}

	if _, err := s.db.Exec("ANALYZE anchors;"); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}

	return nil
}

// InsertAnchors inserts anchors in batched transactions.
func (s *AnchorStore) InsertAnchors(anchors []*models.Anchor) error {
	const batchSize = 10000

	stmt, err := s.db.Prepare(`
		INSERT INTO anchors (id, creator_lat, creator_lon, creator_height,
			enu_east, enu_north, enu_up, object_height, object)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			ST_SetSRID(ST_MakePoint($9, $10), 4326)::geography)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txStmt := tx.Stmt(stmt)

	for i, a := range anchors {
		_, err := txStmt.Exec(a.ID,
			a.CreatorPosition.Latitude, a.CreatorPosition.Longitude, a.CreatorPosition.Height,
			a.CreatorToObject.East, a.CreatorToObject.North, a.CreatorToObject.Up,
			a.ObjectPosition.Height,
			a.ObjectPosition.Longitude, a.ObjectPosition.Latitude)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert anchor %s: %w", a.ID, err)
		}

		if (i+1)%batchSize == 0 {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit batch: %w", err)
			}

			tx, err = s.db.Begin()
			if err != nil {
				return fmt.Errorf("failed to begin new transaction: %w", err)
			}
			txStmt = tx.Stmt(stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit final batch: %w", err)
	}

	return nil
}

// FindNearby returns anchors whose object lies within radiusMeters of
// (lat, lon), ordered by ascending distance. Satisfies the same interface
// as the in-memory index.
func (s *AnchorStore) FindNearby(lat, lon, radiusMeters float64) ([]*models.Anchor, error) {
	query := `
		SELECT id, creator_lat, creator_lon, creator_height,
			enu_east, enu_north, enu_up, object_height,
			ST_Y(object::geometry) AS object_lat,
			ST_X(object::geometry) AS object_lon
		FROM anchors
		WHERE ST_DWithin(object, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(object, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) ASC
	`

	rows, err := s.db.Query(query, lon, lat, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var results []*models.Anchor
	for rows.Next() {
		a := &models.Anchor{}
		if err := rows.Scan(&a.ID,
			&a.CreatorPosition.Latitude, &a.CreatorPosition.Longitude, &a.CreatorPosition.Height,
			&a.CreatorToObject.East, &a.CreatorToObject.North, &a.CreatorToObject.Up,
			&a.ObjectPosition.Height,
			&a.ObjectPosition.Latitude, &a.ObjectPosition.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return results, nil
}

// Count returns the number of stored anchors.
func (s *AnchorStore) Count() (int64, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM anchors").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count anchors: %w", err)
	}
	return count, nil
}

// Stats returns database and table size statistics.
func (s *AnchorStore) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var dbSize string
	err := s.db.QueryRow(`
		SELECT pg_size_pretty(pg_database_size(current_database()))
	`).Scan(&dbSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get database size: %w", err)
	}
	stats["database_size"] = dbSize

	var tableSize, indexSize string
	err = s.db.QueryRow(`
		SELECT
			pg_size_pretty(pg_total_relation_size('anchors')) AS total_size,
			pg_size_pretty(pg_indexes_size('anchors')) AS index_size
	`).Scan(&tableSize, &indexSize)
	if err != nil {
		// Table might not exist yet
		stats["table_size"] = "0 bytes"
		stats["index_size"] = "0 bytes"
	} else {
		stats["table_size"] = tableSize
		stats["index_size"] = indexSize
	}

	count, _ := s.Count()
	stats["anchor_count"] = count

	return stats, nil
}

// Close closes the database connection.
func (s *AnchorStore) Close() error {
	return s.db.Close()
}
