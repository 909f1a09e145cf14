package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/nexusai/promptgate/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ ProductReader   = (*Store)(nil)
	_ ProductWriter   = (*Store)(nil)
	_ QAWriter        = (*Store)(nil)
	_ DuplicateFinder = (*Store)(nil)
)

// productColumns is the canonical column order used by every SELECT and the
// scanProduct helper.
var productColumns = []string{
	"id", "title", "description", "price", "currency", "product_type", "tags",
	"prompt_count", "cover_url", "artifact_path", "artifact_url",
	"product_group_id", "variant_of", "source", "status",
	"qa_status", "qa_score", "qa_fail_reasons", "qa_checked_at",
	"qa_concept_key", "qa_duplicates",
	"created_at", "updated_at",
}

// Store provides data access to the SQLite product collection.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// currentSchemaVersion is bumped whenever the schema changes.
// Add a new migration function in the migrations slice below.
const currentSchemaVersion = 2

func (s *Store) migrate() error {
	// Ensure the schema_version table exists.
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// Fresh database: initialize to version 0.
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// migrations is an ordered list of migration functions.
	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: initial schema
		s.migrateV2, // v1 → v2: add source column (generator 2.0 tags records)
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema (v0 → v1).
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		price            REAL,
		currency         TEXT NOT NULL DEFAULT '',
		product_type     TEXT NOT NULL DEFAULT '',
		tags             TEXT NOT NULL DEFAULT '[]',
		prompt_count     INTEGER,
		cover_url        TEXT NOT NULL DEFAULT '',
		artifact_path    TEXT NOT NULL DEFAULT '',
		artifact_url     TEXT NOT NULL DEFAULT '',
		product_group_id TEXT NOT NULL DEFAULT '',
		variant_of       TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		qa_status        TEXT NOT NULL DEFAULT '',
		qa_score         INTEGER NOT NULL DEFAULT 0,
		qa_fail_reasons  TEXT NOT NULL DEFAULT '[]',
		qa_checked_at    TEXT NOT NULL DEFAULT '',
		qa_concept_key   TEXT NOT NULL DEFAULT '',
		qa_duplicates    TEXT NOT NULL DEFAULT '[]',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_products_status ON products(status, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_products_concept ON products(qa_concept_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the source column (v1 → v2).
func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`ALTER TABLE products ADD COLUMN source TEXT NOT NULL DEFAULT ''`)
	return err
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// CreateProduct inserts a new product record.
func (s *Store) CreateProduct(ctx context.Context, p model.Product) error {
	query, args, err := sq.Insert("products").
		Columns(productColumns...).
		Values(
			p.ID, p.Title, p.Description, p.Price, p.Currency, p.ProductType,
			marshalStrings(p.Tags), p.PromptCount, p.CoverURL, p.ArtifactPath,
			p.ArtifactURL, p.ProductGroupID, p.VariantOf, p.Source, p.Status,
			p.QA.Status, p.QA.Score, marshalStrings(p.QA.FailReasons),
			p.QA.CheckedAt, p.QA.ConceptKey, marshalStrings(p.QA.Duplicates),
			p.CreatedAt, p.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// GetProduct returns a single product record by id.
// Returns sql.ErrNoRows when the id is unknown.
func (s *Store) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	query, args, err := sq.Select(productColumns...).
		From("products").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return scanProduct(s.db.QueryRowContext(ctx, query, args...))
}

// ListProducts returns products matching the filter, most recently updated
// first unless OldestCheckedFirst is set. A zero Limit means no limit.
func (s *Store) ListProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error) {
	builder := sq.Select(productColumns...).
		From("products")
	if f.OldestCheckedFirst {
		builder = builder.OrderBy("qa_checked_at ASC", "updated_at ASC")
	} else {
		builder = builder.OrderBy("updated_at DESC")
	}
	if len(f.Status) > 0 {
		builder = builder.Where(sq.Eq{"status": f.Status})
	}
	if f.Limit > 0 {
		builder = builder.Limit(uint64(f.Limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// FindConceptDuplicates returns the ids of other records sharing the given
// concept key. Records that were never evaluated have an empty key and are
// invisible to the detector until their first evaluation is written.
func (s *Store) FindConceptDuplicates(ctx context.Context, conceptKey, excludeID string) ([]string, error) {
	if conceptKey == "" {
		return nil, nil
	}
	query, args, err := sq.Select("id").
		From("products").
		Where(sq.Eq{"qa_concept_key": conceptKey}).
		Where(sq.NotEq{"id": excludeID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyQA merge-writes an evaluation result into a record: only the qa_*
// columns, updated_at, and (when status is non-nil) status change. Content
// columns are never part of the UPDATE, so concurrent evaluators converge
// on last-write-wins for the qa fields without corrupting anything else.
func (s *Store) ApplyQA(ctx context.Context, id string, qa model.QAResult, status *string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	builder := sq.Update("products").
		Set("qa_status", qa.Status).
		Set("qa_score", qa.Score).
		Set("qa_fail_reasons", marshalStrings(qa.FailReasons)).
		Set("qa_checked_at", qa.CheckedAt).
		Set("qa_concept_key", qa.ConceptKey).
		Set("qa_duplicates", marshalStrings(qa.Duplicates)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id})
	if status != nil {
		builder = builder.Set("status", *status)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByStatus returns the number of records per lifecycle status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM products GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row scanner) (*model.Product, error) {
	var p model.Product
	var tags, failReasons, duplicates string
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Price, &p.Currency, &p.ProductType,
		&tags, &p.PromptCount, &p.CoverURL, &p.ArtifactPath, &p.ArtifactURL,
		&p.ProductGroupID, &p.VariantOf, &p.Source, &p.Status,
		&p.QA.Status, &p.QA.Score, &failReasons, &p.QA.CheckedAt,
		&p.QA.ConceptKey, &duplicates,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Tags = unmarshalStrings(tags)
	p.QA.FailReasons = unmarshalStrings(failReasons)
	p.QA.Duplicates = unmarshalStrings(duplicates)
	return &p, nil
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
