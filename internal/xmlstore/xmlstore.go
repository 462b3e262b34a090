// Package xmlstore implements the XML extract store (spec §4.7): metadata
// rows keyed by ObjectId and extract blobs keyed by (EIN, ObjectId),
// persisted through the embedded relational store the same way the
// discovery index uses it.
package xmlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/logging"
	"nonprofitvet/internal/store"
)

// Store is the XML extract store.
type Store struct {
	st *store.Store
}

// New wraps an already-open Store and ensures the extract schema exists.
func New(st *store.Store) (*Store, error) {
	s := &Store{st: st}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.st.DB().Exec(`
		CREATE TABLE IF NOT EXISTS filing_metadata (
			object_id      TEXT PRIMARY KEY,
			ein            TEXT NOT NULL,
			tax_year       INTEGER NOT NULL,
			tax_period     TEXT NOT NULL,
			form_type      TEXT NOT NULL,
			return_version TEXT
		);
		CREATE TABLE IF NOT EXISTS xml_extracts (
			ein        TEXT NOT NULL,
			object_id  TEXT NOT NULL,
			tax_year   INTEGER NOT NULL,
			extract_json TEXT NOT NULL,
			PRIMARY KEY (ein, object_id)
		);
		CREATE INDEX IF NOT EXISTS idx_extracts_ein_year ON xml_extracts(ein, tax_year);
	`)
	if err != nil {
		return fmt.Errorf("xmlstore: create schema: %w", err)
	}
	return nil
}

// HasExtract reports whether an extract blob already exists for (e, objectId).
func (s *Store) HasExtract(e ein.EIN, objectID string) (bool, error) {
	var count int
	err := s.st.DB().QueryRow(
		"SELECT COUNT(*) FROM xml_extracts WHERE ein = ? AND object_id = ?",
		e.String(), objectID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("xmlstore: hasExtract %s/%s: %w", e, objectID, err)
	}
	return count > 0, nil
}

// SaveMetadata upserts a filing-index entry's metadata row, keyed by ObjectId.
func (s *Store) SaveMetadata(ctx context.Context, entry domain.FilingIndexEntry) error {
	return s.st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO filing_metadata (object_id, ein, tax_year, tax_period, form_type, return_version)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(object_id) DO UPDATE SET
				ein = excluded.ein,
				tax_year = excluded.tax_year,
				tax_period = excluded.tax_period,
				form_type = excluded.form_type,
				return_version = excluded.return_version
		`, entry.ObjectId, entry.EIN.String(), entry.TaxYear, entry.TaxPeriod, string(entry.FormType), entry.ReturnVersion)
		if err != nil {
			return fmt.Errorf("xmlstore: upsert metadata for %s: %w", entry.ObjectId, err)
		}
		return nil
	})
}

// SaveExtract persists a canonical extract. Per spec §4.7 and Testable
// Property 7, an empty extract is never written.
func (s *Store) SaveExtract(ctx context.Context, extract *domain.XMLExtract) error {
	if extract.Empty() {
		return fmt.Errorf("xmlstore: refusing to persist an empty extract for %s/%s", extract.EIN, extract.ObjectId)
	}

	blob, err := json.Marshal(extract)
	if err != nil {
		return fmt.Errorf("xmlstore: serialize extract for %s/%s: %w", extract.EIN, extract.ObjectId, err)
	}

	return s.st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO xml_extracts (ein, object_id, tax_year, extract_json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(ein, object_id) DO UPDATE SET
				tax_year = excluded.tax_year,
				extract_json = excluded.extract_json
		`, extract.EIN.String(), extract.ObjectId, extract.TaxYear, string(blob))
		if err != nil {
			return fmt.Errorf("xmlstore: insert extract for %s/%s: %w", extract.EIN, extract.ObjectId, err)
		}
		return nil
	})
}

// GetLatestExtract returns the extract with the maximum tax year for e, if any.
func (s *Store) GetLatestExtract(e ein.EIN) (*domain.XMLExtract, bool, error) {
	var blob string
	err := s.st.DB().QueryRow(
		"SELECT extract_json FROM xml_extracts WHERE ein = ? ORDER BY tax_year DESC LIMIT 1",
		e.String(),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("xmlstore: getLatestExtract %s: %w", e, err)
	}
	return deserialize(e, blob)
}

// GetAllExtracts returns every cached extract for e, most recent tax year first.
func (s *Store) GetAllExtracts(e ein.EIN) ([]*domain.XMLExtract, error) {
	rows, err := s.st.DB().Query(
		"SELECT extract_json FROM xml_extracts WHERE ein = ? ORDER BY tax_year DESC",
		e.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("xmlstore: getAllExtracts %s: %w", e, err)
	}
	defer rows.Close()

	var out []*domain.XMLExtract
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("xmlstore: scan extract for %s: %w", e, err)
		}
		extract, _, err := deserialize(e, blob)
		if err != nil {
			return nil, err
		}
		out = append(out, extract)
	}
	return out, nil
}

// deserialize decodes a stored extract blob, raising ErrCorruptExtract (a
// fatal, distinct-from-miss error) on any malformed JSON, per spec §4.7.
func deserialize(e ein.EIN, blob string) (*domain.XMLExtract, bool, error) {
	var extract domain.XMLExtract
	if err := json.Unmarshal([]byte(blob), &extract); err != nil {
		logging.Errorf(logging.CategoryXMLStore, "corrupt extract blob for %s: %v", e, err)
		return nil, false, fmt.Errorf("%w: %s: %v", errs.ErrCorruptExtract, e, err)
	}
	return &extract, true, nil
}
