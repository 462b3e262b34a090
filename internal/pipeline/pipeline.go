// Package pipeline implements the vetting pipeline and result cache (spec
// §4.12): it orchestrates the profile builder, gate layer, scoring engine,
// and red-flag detector into one runScreening call, persisting the outcome
// to a SQLite-backed cache shared with the search-history logger under a
// single-owner handle, per spec §9.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"nonprofitvet/internal/domain"
	"nonprofitvet/internal/ein"
	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/gates"
	"nonprofitvet/internal/logging"
	"nonprofitvet/internal/redflags"
	"nonprofitvet/internal/scoring"
	"nonprofitvet/internal/store"
	"nonprofitvet/internal/thresholds"
)

// ProfileBuilder resolves a Profile for an EIN, per profile.Builder.
type ProfileBuilder interface {
	Build(ctx context.Context, e ein.EIN) (*domain.Profile, error)
}

// ThresholdSource resolves the sector-specific threshold set for a Profile.
type ThresholdSource interface {
	Resolve(nteeCode string) thresholds.ScoringThresholds
}

// Options controls one runScreening call (spec §4.12 step 1).
type Options struct {
	ForceRefresh bool
}

// Pipeline is the vetting orchestrator.
type Pipeline struct {
	st          *store.Store
	profiles    ProfileBuilder
	gatesEval   *gates.Evaluator
	thresholds  ThresholdSource
	fuzzy       redflags.FuzzyChecker
	courts      courtLookup
	cacheMaxAge time.Duration
}

// courtLookup mirrors courtrecords.Lookup without importing it, keeping the
// pipeline's constructor surface small; any value satisfying this interface
// (including courtrecords.NoopLookup) may be passed to New.
type courtLookup interface {
	Lookup(ctx context.Context, orgName string) ([]domain.CourtCase, error)
}

// New wraps an already-open Store and ensures the cache and search-history
// schema exists. cacheMaxAgeDays is the screening-result TTL (spec §6).
func New(st *store.Store, profiles ProfileBuilder, gatesEval *gates.Evaluator, th ThresholdSource, fuzzy redflags.FuzzyChecker, courts courtLookup, cacheMaxAgeDays int) (*Pipeline, error) {
	p := &Pipeline{
		st:          st,
		profiles:    profiles,
		gatesEval:   gatesEval,
		thresholds:  th,
		fuzzy:       fuzzy,
		courts:      courts,
		cacheMaxAge: time.Duration(cacheMaxAgeDays) * 24 * time.Hour,
	}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) ensureSchema() error {
	_, err := p.st.DB().Exec(`
		CREATE TABLE IF NOT EXISTS screening_results (
			ein             TEXT NOT NULL,
			name            TEXT NOT NULL,
			gate_blocked    INTEGER NOT NULL,
			blocking_gate   TEXT,
			gates_json      TEXT NOT NULL,
			score           INTEGER,
			checks_json     TEXT,
			red_flags_json  TEXT NOT NULL,
			recommendation  TEXT NOT NULL,
			narrative       TEXT NOT NULL,
			review_reasons_json TEXT NOT NULL,
			vetted_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_screening_ein ON screening_results(ein);
		CREATE INDEX IF NOT EXISTS idx_screening_recommendation ON screening_results(recommendation);
		CREATE INDEX IF NOT EXISTS idx_screening_vetted_at ON screening_results(vetted_at);

		CREATE TABLE IF NOT EXISTS search_history (
			tool          TEXT NOT NULL,
			query_json    TEXT NOT NULL,
			result_count  INTEGER NOT NULL,
			searched_at   TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("pipeline: create schema: %w", err)
	}
	return nil
}

// RunScreening executes spec §4.12's three-step orchestration for e.
func (p *Pipeline) RunScreening(ctx context.Context, e ein.EIN, opts Options, now time.Time) (*domain.ScreeningResult, error) {
	timer := logging.StartTimer(logging.CategoryVetting, "RunScreening")
	defer timer.Stop()

	if !opts.ForceRefresh {
		if cached, ok := p.freshCachedResult(e, now); ok {
			cached.Cached = true
			cached.Narrative = "served from cache, vetted at " + cached.VettedAt
			return cached, nil
		}
	}

	profile, err := p.profiles.Build(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build profile %s: %w", e, err)
	}

	gateOutcomes := p.gatesEval.EvaluateAll(profile)
	if blocking, blocked := firstFailedGate(gateOutcomes); blocked {
		result := &domain.ScreeningResult{
			EIN:            e,
			Name:           profile.Name,
			GateBlocked:    true,
			BlockingGate:   blocking,
			Gates:          gateOutcomes,
			Recommendation: domain.RecReject,
			Narrative:      fmt.Sprintf("blocked at gate %s", blocking),
			VettedAt:       now.Format(time.RFC3339),
		}
		p.persistBestEffort(ctx, result)
		return result, nil
	}

	th := p.thresholds.Resolve(profile.NTEECode)
	checks, score := scoring.Score(profile, th, now)
	flags := redflags.Detect(ctx, profile, th, p.fuzzy, p.courts, now)

	hasHighFlag := false
	var reasons []string
	for _, f := range flags {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.Type, f.Detail))
		if f.Severity == domain.SeverityHigh {
			hasHighFlag = true
		}
	}

	recommendation := scoring.Recommend(score, th, hasHighFlag)
	scoreCopy := score

	result := &domain.ScreeningResult{
		EIN:            e,
		Name:           profile.Name,
		GateBlocked:    false,
		Gates:          gateOutcomes,
		Score:          &scoreCopy,
		Checks:         checks,
		RedFlags:       flags,
		Recommendation: recommendation,
		Narrative:      fmt.Sprintf("score %d, recommendation %s", score, recommendation),
		ReviewReasons:  reasons,
		VettedAt:       now.Format(time.RFC3339),
	}
	p.persistBestEffort(ctx, result)
	return result, nil
}

// firstFailedGate returns the name of the first FAIL'd gate in evaluation
// order, or ok=false if every gate passed.
func firstFailedGate(outcomes []domain.GateOutcome) (domain.GateName, bool) {
	for _, o := range outcomes {
		if !o.Passed {
			return o.Gate, true
		}
	}
	return "", false
}

// freshCachedResult looks up the latest cached result for e and reports
// whether it is fresh per spec §4.12 step 1 / §6.2: vetted_at parsable,
// non-future, and within cacheMaxAgeDays.
func (p *Pipeline) freshCachedResult(e ein.EIN, now time.Time) (*domain.ScreeningResult, bool) {
	row := p.st.DB().QueryRow(`
		SELECT ein, name, gate_blocked, blocking_gate, gates_json, score,
		       checks_json, red_flags_json, recommendation, narrative,
		       review_reasons_json, vetted_at
		FROM screening_results WHERE ein = ? ORDER BY vetted_at DESC LIMIT 1
	`, e.String())

	result, err := scanResult(row)
	if err != nil {
		return nil, false
	}

	vettedAt, parseErr := time.Parse(time.RFC3339, result.VettedAt)
	if parseErr != nil {
		return nil, false
	}
	age := now.Sub(vettedAt)
	if age < 0 || age > p.cacheMaxAge {
		return nil, false
	}
	return result, true
}

// GetCachedResult looks up the latest cached result for e regardless of
// freshness, per errs.ErrResultNotFound when absent.
func (p *Pipeline) GetCachedResult(e ein.EIN) (*domain.ScreeningResult, error) {
	row := p.st.DB().QueryRow(`
		SELECT ein, name, gate_blocked, blocking_gate, gates_json, score,
		       checks_json, red_flags_json, recommendation, narrative,
		       review_reasons_json, vetted_at
		FROM screening_results WHERE ein = ? ORDER BY vetted_at DESC LIMIT 1
	`, e.String())

	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", errs.ErrResultNotFound, e)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: getCachedResult %s: %w", e, err)
	}
	return result, nil
}

func scanResult(row *sql.Row) (*domain.ScreeningResult, error) {
	var (
		result                                      domain.ScreeningResult
		einStr                                      string
		gateBlockedInt                              int
		blockingGate                                sql.NullString
		gatesJSON, redFlagsJSON, reviewReasonsJSON   string
		checksJSON                                  sql.NullString
		score                                        sql.NullInt64
	)
	if err := row.Scan(&einStr, &result.Name, &gateBlockedInt, &blockingGate,
		&gatesJSON, &score, &checksJSON, &redFlagsJSON, &result.Recommendation,
		&result.Narrative, &reviewReasonsJSON, &result.VettedAt); err != nil {
		return nil, err
	}

	e, err := ein.Parse(einStr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: corrupt stored ein %q: %w", einStr, err)
	}
	result.EIN = e
	result.GateBlocked = gateBlockedInt == 1
	if blockingGate.Valid {
		result.BlockingGate = domain.GateName(blockingGate.String)
	}
	if err := json.Unmarshal([]byte(gatesJSON), &result.Gates); err != nil {
		return nil, fmt.Errorf("pipeline: corrupt gates_json: %w", err)
	}
	if score.Valid {
		s := int(score.Int64)
		result.Score = &s
	}
	if checksJSON.Valid {
		if err := json.Unmarshal([]byte(checksJSON.String), &result.Checks); err != nil {
			return nil, fmt.Errorf("pipeline: corrupt checks_json: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(redFlagsJSON), &result.RedFlags); err != nil {
		return nil, fmt.Errorf("pipeline: corrupt red_flags_json: %w", err)
	}
	if err := json.Unmarshal([]byte(reviewReasonsJSON), &result.ReviewReasons); err != nil {
		return nil, fmt.Errorf("pipeline: corrupt review_reasons_json: %w", err)
	}
	return &result, nil
}

// persistBestEffort writes result to the cache; a failure is logged, never
// propagated (spec §7 "best-effort side channels").
func (p *Pipeline) persistBestEffort(ctx context.Context, result *domain.ScreeningResult) {
	if err := p.persist(ctx, result); err != nil {
		logging.Warnf(logging.CategoryVetting, "failed to persist screening result for %s: %v", result.EIN, err)
	}
}

func (p *Pipeline) persist(ctx context.Context, result *domain.ScreeningResult) error {
	gatesJSON, err := json.Marshal(result.Gates)
	if err != nil {
		return fmt.Errorf("serialize gates: %w", err)
	}
	redFlagsJSON, err := json.Marshal(result.RedFlags)
	if err != nil {
		return fmt.Errorf("serialize red flags: %w", err)
	}
	reviewReasonsJSON, err := json.Marshal(result.ReviewReasons)
	if err != nil {
		return fmt.Errorf("serialize review reasons: %w", err)
	}
	var checksJSON sql.NullString
	if result.Checks != nil {
		b, err := json.Marshal(result.Checks)
		if err != nil {
			return fmt.Errorf("serialize checks: %w", err)
		}
		checksJSON = sql.NullString{String: string(b), Valid: true}
	}
	var score sql.NullInt64
	if result.Score != nil {
		score = sql.NullInt64{Int64: int64(*result.Score), Valid: true}
	}
	var blockingGate sql.NullString
	if result.BlockingGate != "" {
		blockingGate = sql.NullString{String: string(result.BlockingGate), Valid: true}
	}
	gateBlockedInt := 0
	if result.GateBlocked {
		gateBlockedInt = 1
	}

	return p.st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO screening_results (
				ein, name, gate_blocked, blocking_gate, gates_json, score,
				checks_json, red_flags_json, recommendation, narrative,
				review_reasons_json, vetted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, result.EIN.String(), result.Name, gateBlockedInt, blockingGate,
			string(gatesJSON), score, checksJSON, string(redFlagsJSON),
			string(result.Recommendation), result.Narrative, string(reviewReasonsJSON),
			result.VettedAt)
		return err
	})
}

// LogSearch records one tool query in the search-history sibling table
// (spec §4.12). Persistence failure is logged, never thrown.
func (p *Pipeline) LogSearch(ctx context.Context, tool string, query interface{}, resultCount int, now time.Time) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		logging.Warnf(logging.CategoryVetting, "failed to serialize search-history query for %s: %v", tool, err)
		return
	}
	err = p.st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_history (tool, query_json, result_count, searched_at)
			VALUES (?, ?, ?, ?)
		`, tool, string(queryJSON), resultCount, now.Format(time.RFC3339))
		return err
	})
	if err != nil {
		logging.Warnf(logging.CategoryVetting, "failed to log search history for %s: %v", tool, err)
	}
}
