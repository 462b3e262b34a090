package discovery

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jszwec/csvutil"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/logging"
	"nonprofitvet/internal/store"
)

const (
	rebuildCooldown      = 5 * time.Minute
	antiCorruptionFloor  = 500_000
	bulkInsertBatchSize  = 1000
)

// Index is the discovery index: a relational BMF snapshot plus the
// freshness manifest that guards rebuilds (spec §4.3).
type Index struct {
	mu           sync.Mutex
	st           *store.Store
	fetcher      RegionFetcher
	manifestPath string
	lastRebuild  time.Time
}

type freshnessManifest struct {
	BuiltAt time.Time `json:"built_at"`
	RowCount int      `json:"row_count"`
}

// New wraps an already-open Store. manifestPath is the freshness-manifest
// file path (spec §7: "discovery-manifest.json").
func New(st *store.Store, fetcher RegionFetcher, manifestPath string) (*Index, error) {
	idx := &Index{st: st, fetcher: fetcher, manifestPath: manifestPath}
	if err := idx.ensureSchema(); err != nil {
		return nil, err
	}
	if m, err := idx.loadManifest(); err == nil {
		idx.lastRebuild = m.BuiltAt
	}
	return idx, nil
}

func (idx *Index) ensureSchema() error {
	_, err := idx.st.DB().Exec(`
		CREATE TABLE IF NOT EXISTS bmf (
			ein TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			city TEXT,
			state TEXT,
			ntee_code TEXT,
			subsection INTEGER,
			ruling_date TEXT
		);
	`)
	if err != nil {
		return fmt.Errorf("discovery: create bmf table: %w", err)
	}
	return nil
}

func (idx *Index) loadManifest() (freshnessManifest, error) {
	var m freshnessManifest
	data, err := os.ReadFile(idx.manifestPath)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

func (idx *Index) saveManifest(m freshnessManifest) error {
	if dir := filepath.Dir(idx.manifestPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := idx.manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.manifestPath)
}

// Rebuild downloads every configured region, dedupes by EIN (later region
// wins), and replaces the bmf table: it drops and recreates the table, then
// inserts rows in batches of 1,000, each batch in its own transaction. It refuses to
// proceed if the deduplicated row count falls below the 500,000-row
// anti-corruption floor (spec §4.3), and enforces a 5-minute inter-rebuild
// cooldown.
func (idx *Index) Rebuild(ctx context.Context, regions []RegionSource) error {
	idx.mu.Lock()
	if !idx.lastRebuild.IsZero() && time.Since(idx.lastRebuild) < rebuildCooldown {
		idx.mu.Unlock()
		return fmt.Errorf("discovery: rebuild on cooldown, retry after %s", rebuildCooldown-time.Since(idx.lastRebuild))
	}
	idx.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryDiscovery, "Rebuild")
	defer timer.Stop()

	byEIN := make(map[ein.EIN]domain.BMFRow)
	for _, region := range regions {
		rc, err := idx.fetcher.FetchRegionCSV(ctx, region)
		if err != nil {
			return fmt.Errorf("discovery: fetch region %s: %w", region.Name, err)
		}
		rows, err := parseRegionCSV(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("discovery: parse region %s: %w", region.Name, err)
		}
		for _, r := range rows {
			byEIN[r.EIN] = r // later region wins on duplicate EIN
		}
		logging.Debugf(logging.CategoryDiscovery, "region %s contributed %d rows (running total %d)", region.Name, len(rows), len(byEIN))
	}

	if len(byEIN) < antiCorruptionFloor {
		return fmt.Errorf("%w: got %d unique EINs, need >= %d", errs.ErrInsufficientRows, len(byEIN), antiCorruptionFloor)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.replaceTable(ctx, byEIN); err != nil {
		return err
	}

	now := time.Now()
	idx.lastRebuild = now
	if err := idx.saveManifest(freshnessManifest{BuiltAt: now, RowCount: len(byEIN)}); err != nil {
		logging.Warnf(logging.CategoryDiscovery, "failed to persist discovery manifest: %v", err)
	}
	if err := idx.st.Persist(); err != nil {
		logging.Warnf(logging.CategoryDiscovery, "failed to persist discovery store after rebuild: %v", err)
	}
	return nil
}

func (idx *Index) replaceTable(ctx context.Context, rows map[ein.EIN]domain.BMFRow) error {
	_, err := idx.st.DB().ExecContext(ctx, "DROP TABLE IF EXISTS bmf")
	if err != nil {
		return fmt.Errorf("discovery: drop bmf table: %w", err)
	}
	if err := idx.ensureSchema(); err != nil {
		return err
	}

	batch := make([][]interface{}, 0, bulkInsertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := idx.st.BulkInsert(ctx, `
			INSERT INTO bmf (ein, name, city, state, ntee_code, subsection, ruling_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, batch)
		batch = batch[:0]
		return err
	}

	for _, r := range rows {
		batch = append(batch, []interface{}{
			r.EIN.String(), r.Name, r.City, r.State, r.NTEECode, r.Subsection, r.RulingDate,
		})
		if len(batch) >= bulkInsertBatchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("discovery: bulk insert: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("discovery: bulk insert final batch: %w", err)
	}

	// Secondary indexes are created after bulk insert, per spec §4.3.
	indexStmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_bmf_state ON bmf(state)",
		"CREATE INDEX IF NOT EXISTS idx_bmf_ntee ON bmf(ntee_code)",
		"CREATE INDEX IF NOT EXISTS idx_bmf_subsection ON bmf(subsection)",
		"CREATE INDEX IF NOT EXISTS idx_bmf_state_ntee ON bmf(state, ntee_code)",
	}
	for _, stmt := range indexStmts {
		if _, err := idx.st.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("discovery: create index: %w", err)
		}
	}
	idx.st.MarkDirty()
	return nil
}

func parseRegionCSV(r io.Reader) ([]domain.BMFRow, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1 // relaxed column count, per spec §4.3

	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	var out []domain.BMFRow
	for {
		var row bmfCSVRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			continue // a malformed row is skipped, not fatal, for a bulk BMF feed
		}
		e, perr := ein.Parse(row.EIN)
		if perr != nil {
			continue
		}
		subsection, _ := strconv.Atoi(strings.TrimSpace(row.Subsection))
		if row.Name == "" {
			continue // BMF row invariant: name non-empty
		}
		out = append(out, domain.BMFRow{
			EIN:        e,
			Name:       row.Name,
			City:       row.City,
			State:      row.State,
			NTEECode:   row.NTEECode,
			Subsection: subsection,
			RulingDate: strings.TrimSpace(row.Ruling),
		})
	}
	return out, nil
}

// Lookup returns the BMF row for a single EIN, if present.
func (idx *Index) Lookup(e ein.EIN) (domain.BMFRow, bool, error) {
	row := domain.BMFRow{}
	var subsection sql.NullInt64
	err := idx.st.DB().QueryRow(
		"SELECT ein, name, city, state, ntee_code, subsection, ruling_date FROM bmf WHERE ein = ?",
		e.String(),
	).Scan(&row.EIN, &row.Name, &row.City, &row.State, &row.NTEECode, &subsection, &row.RulingDate)
	if err == sql.ErrNoRows {
		return domain.BMFRow{}, false, nil
	}
	if err != nil {
		return domain.BMFRow{}, false, fmt.Errorf("discovery: lookup %s: %w", e, err)
	}
	row.Subsection = int(subsection.Int64)
	return row, true, nil
}

// Query runs a filtered candidate-discovery search, per spec §4.3: all
// fields optional, name-contains uses parameterized substring match (never
// string concatenation), NTEE include/exclude use prefix matching OR'd
// within a list and AND'd across lists, ruling-year range compares the
// first four characters of ruling_date as an integer, results are
// name-ordered and paginated, with the total number of matching rows
// (before limit/offset are applied) alongside the page.
func (idx *Index) Query(ctx context.Context, q Query) (QueryResult, error) {
	where := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)

	if q.State != "" {
		where = append(where, "state = ?")
		args = append(args, q.State)
	}
	if q.HasSubsection {
		where = append(where, "subsection = ?")
		args = append(args, q.Subsection)
	}
	if q.City != "" {
		where = append(where, "LOWER(city) = LOWER(?)")
		args = append(args, q.City)
	}
	if q.NameContains != "" {
		where = append(where, "name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q.NameContains)+"%")
	}
	if len(q.NTEEIncludePrefixes) > 0 {
		clause, prefixArgs := prefixOrClause("ntee_code", q.NTEEIncludePrefixes)
		where = append(where, clause)
		args = append(args, prefixArgs...)
	}
	if len(q.NTEEExcludePrefixes) > 0 {
		clause, prefixArgs := prefixOrClause("ntee_code", q.NTEEExcludePrefixes)
		where = append(where, "NOT ("+clause+")")
		args = append(args, prefixArgs...)
	}
	if q.RulingYearMin > 0 {
		where = append(where, "CAST(SUBSTR(ruling_date, 1, 4) AS INTEGER) >= ?")
		args = append(args, q.RulingYearMin)
	}
	if q.RulingYearMax > 0 {
		where = append(where, "CAST(SUBSTR(ruling_date, 1, 4) AS INTEGER) <= ?")
		args = append(args, q.RulingYearMax)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM bmf " + whereSQL
	if err := idx.st.DB().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return QueryResult{}, fmt.Errorf("discovery: count query: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	pageQuery := fmt.Sprintf(
		"SELECT ein, name, city, state, ntee_code, subsection, ruling_date FROM bmf %s ORDER BY name LIMIT ? OFFSET ?",
		whereSQL,
	)
	pageArgs := append(append([]interface{}{}, args...), limit, q.Offset)

	rows, err := idx.st.DB().QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("discovery: page query: %w", err)
	}
	defer rows.Close()

	var out []domain.BMFRow
	for rows.Next() {
		var r domain.BMFRow
		var subsection sql.NullInt64
		if err := rows.Scan(&r.EIN, &r.Name, &r.City, &r.State, &r.NTEECode, &subsection, &r.RulingDate); err != nil {
			return QueryResult{}, fmt.Errorf("discovery: scan row: %w", err)
		}
		r.Subsection = int(subsection.Int64)
		out = append(out, r)
	}
	return QueryResult{Rows: out, Total: total}, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// prefixOrClause builds "(col LIKE ? OR col LIKE ? ...)" for a list of
// prefixes, parameterized, never concatenated into the SQL text. An empty
// prefix in the list matches nothing, per spec §4.3.
func prefixOrClause(col string, prefixes []string) (string, []interface{}) {
	parts := make([]string, 0, len(prefixes))
	args := make([]interface{}, 0, len(prefixes))
	for _, p := range prefixes {
		if p == "" {
			parts = append(parts, "1 = 0")
			continue
		}
		parts = append(parts, col+" LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(p)+"%")
	}
	if len(parts) == 0 {
		return "1 = 0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}
