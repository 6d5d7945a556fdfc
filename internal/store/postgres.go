package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fedmatch/internal/db"
	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_opportunity_by_notice": `SELECT ` + opportunityColumns + ` FROM opportunities WHERE notice_id = $1`,
	"set_fit_score":             `UPDATE opportunities SET fit_score = $1, justification = $2, summary_description = $3, practice_area = $4, score_stale = false, updated_at = $5 WHERE id = $6`,
	"get_match_by_pair":         `SELECT ` + matchColumns + ` FROM matches WHERE opportunity_id = $1 AND record_id = $2`,
	"insert_attempt":            `INSERT INTO search_attempts (id, opportunity_id, strategy, params, result_count, error_message, elapsed_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS opportunities (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	notice_id           TEXT NOT NULL UNIQUE,
	title               TEXT NOT NULL,
	department          TEXT NOT NULL DEFAULT '',
	solicitation_number TEXT NOT NULL DEFAULT '',
	solicitation_base   TEXT NOT NULL DEFAULT '',
	classification_code TEXT NOT NULL DEFAULT '',
	naics_code          TEXT NOT NULL DEFAULT '',
	set_aside           TEXT NOT NULL DEFAULT '',
	place_of_performance TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	summary_description TEXT NOT NULL DEFAULT '',
	posted_date         TIMESTAMPTZ NOT NULL,
	response_deadline   TIMESTAMPTZ NOT NULL,
	link                TEXT NOT NULL DEFAULT '',
	fit_score           DOUBLE PRECISION,
	justification       TEXT NOT NULL DEFAULT '',
	practice_area       TEXT NOT NULL DEFAULT '',
	score_stale         BOOLEAN NOT NULL DEFAULT false,
	original_id         TEXT,
	superseded_by_id    TEXT,
	review_for_bid      TEXT NOT NULL DEFAULT 'Pending',
	recommend_bid       TEXT NOT NULL DEFAULT 'Pending',
	review_comments     TEXT NOT NULL DEFAULT '',
	reviewed_by         TEXT NOT NULL DEFAULT '',
	reviewed_at         TIMESTAMPTZ,
	followed            BOOLEAN NOT NULL DEFAULT false,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunities_solicitation_base ON opportunities(solicitation_base);
CREATE INDEX IF NOT EXISTS idx_opportunities_fit_score ON opportunities(fit_score);
CREATE INDEX IF NOT EXISTS idx_opportunities_dept_code ON opportunities(department, classification_code);
CREATE INDEX IF NOT EXISTS idx_opportunities_posted_date ON opportunities(posted_date DESC);

CREATE TABLE IF NOT EXISTS historical_records (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id         TEXT NOT NULL UNIQUE,
	title               TEXT NOT NULL,
	gov_entity          TEXT NOT NULL DEFAULT '',
	classification_code TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	value               DOUBLE PRECISION NOT NULL DEFAULT 0,
	posted_date         TIMESTAMPTZ,
	award_date          TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS matches (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	opportunity_id TEXT NOT NULL REFERENCES opportunities(id),
	record_id      TEXT NOT NULL REFERENCES historical_records(id),
	strategy       TEXT NOT NULL,
	score          INTEGER,
	rationale      TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending_review',
	notes          TEXT NOT NULL DEFAULT '',
	reviewed_by    TEXT NOT NULL DEFAULT '',
	reviewed_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (opportunity_id, record_id)
);

CREATE INDEX IF NOT EXISTS idx_matches_opportunity_id ON matches(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status);
CREATE INDEX IF NOT EXISTS idx_matches_unscored ON matches(created_at) WHERE score IS NULL;

CREATE TABLE IF NOT EXISTS search_attempts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	opportunity_id TEXT NOT NULL,
	strategy       TEXT NOT NULL,
	params         JSONB NOT NULL DEFAULT '{}',
	result_count   INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	elapsed_ms     BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_attempts_opportunity_id ON search_attempts(opportunity_id);
`

const opportunityColumns = `id, notice_id, title, department, solicitation_number, classification_code, naics_code, set_aside, place_of_performance, description, summary_description, posted_date, response_deadline, link, fit_score, justification, practice_area, score_stale, original_id, superseded_by_id, review_for_bid, recommend_bid, review_comments, reviewed_by, reviewed_at, followed, created_at, updated_at`

const matchColumns = `id, opportunity_id, record_id, strategy, score, rationale, status, notes, reviewed_by, reviewed_at, created_at, updated_at`

const recordColumns = `id, external_id, title, gov_entity, classification_code, description, value, posted_date, award_date, created_at, updated_at`

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanOpportunity(row scannable) (*model.Opportunity, error) {
	var o model.Opportunity
	err := row.Scan(
		&o.ID, &o.NoticeID, &o.Title, &o.Department, &o.SolicitationNumber,
		&o.ClassificationCode, &o.NAICSCode, &o.SetAside, &o.PlaceOfPerformance,
		&o.Description,
		&o.SummaryDescription, &o.PostedDate, &o.ResponseDeadline, &o.Link,
		&o.FitScore, &o.Justification, &o.PracticeArea, &o.ScoreStale,
		&o.OriginalID, &o.SupersededByID, &o.ReviewForBid, &o.RecommendBid,
		&o.ReviewComments, &o.ReviewedBy, &o.ReviewedAt, &o.Followed,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanMatch(row scannable) (*model.Match, error) {
	var m model.Match
	err := row.Scan(
		&m.ID, &m.OpportunityID, &m.RecordID, &m.Strategy, &m.Score,
		&m.Rationale, &m.Status, &m.Notes, &m.ReviewedBy, &m.ReviewedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanRecord(row scannable) (*model.HistoricalRecord, error) {
	var r model.HistoricalRecord
	err := row.Scan(
		&r.ID, &r.ExternalID, &r.Title, &r.GovEntity, &r.ClassificationCode,
		&r.Description, &r.Value, &r.PostedDate, &r.AwardDate,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetOpportunityByNoticeID(ctx context.Context, noticeID string) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE notice_id = $1`,
		noticeID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get opportunity by notice %s", noticeID)
	}
	return o, nil
}

func (s *PostgresStore) GetOpportunityByID(ctx context.Context, id string) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get opportunity %s", id)
	}
	return o, nil
}

// CreateOpportunity inserts opp. A notice_id collision means another writer
// got there first; the caller receives a ConflictError and should re-read
// rather than merge.
func (s *PostgresStore) CreateOpportunity(ctx context.Context, opp *model.Opportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now
	if opp.ReviewForBid == "" {
		opp.ReviewForBid = model.ReviewPending
	}
	if opp.RecommendBid == "" {
		opp.RecommendBid = model.ReviewPending
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO opportunities (
			id, notice_id, title, department, solicitation_number, solicitation_base,
			classification_code, naics_code, set_aside, place_of_performance,
			description, summary_description,
			posted_date, response_deadline, link, fit_score, justification, practice_area,
			score_stale, original_id, superseded_by_id, review_for_bid, recommend_bid,
			review_comments, reviewed_by, reviewed_at, followed, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29
		) ON CONFLICT (notice_id) DO NOTHING`,
		opp.ID, opp.NoticeID, opp.Title, opp.Department, opp.SolicitationNumber,
		model.SolicitationBase(opp.SolicitationNumber),
		opp.ClassificationCode, opp.NAICSCode, opp.SetAside, opp.PlaceOfPerformance,
		opp.Description,
		opp.SummaryDescription, opp.PostedDate, opp.ResponseDeadline, opp.Link,
		opp.FitScore, opp.Justification, opp.PracticeArea, opp.ScoreStale,
		opp.OriginalID, opp.SupersededByID, string(opp.ReviewForBid), string(opp.RecommendBid),
		opp.ReviewComments, opp.ReviewedBy, opp.ReviewedAt, opp.Followed,
		opp.CreatedAt, opp.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert opportunity %s", opp.NoticeID)
	}
	if tag.RowsAffected() == 0 {
		return resilience.NewConflictError("opportunity", opp.NoticeID)
	}
	return nil
}

// MarkSuperseded claims the forward pointer on a current opportunity. The
// pointer is written at most once: a row already superseded reports a
// ConflictError so the caller can re-read and follow the chain forward.
func (s *PostgresStore) MarkSuperseded(ctx context.Context, noticeID, supersededByNoticeID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities
		 SET superseded_by_id = (SELECT id FROM opportunities WHERE notice_id = $2),
		     updated_at = $3
		 WHERE notice_id = $1 AND superseded_by_id IS NULL`,
		noticeID, supersededByNoticeID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark superseded %s", noticeID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM opportunities WHERE notice_id = $1)`, noticeID,
		).Scan(&exists); qerr != nil {
			return eris.Wrapf(qerr, "postgres: mark superseded %s", noticeID)
		}
		if exists {
			return resilience.NewConflictError("opportunity", noticeID)
		}
		return eris.Errorf("opportunity not found: %s", noticeID)
	}
	return nil
}

func (s *PostgresStore) SetFitScore(ctx context.Context, id string, score float64, justification, summary, practiceArea string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET fit_score = $1, justification = $2, summary_description = $3, practice_area = $4, score_stale = false, updated_at = $5 WHERE id = $6`,
		score, justification, summary, practiceArea, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set fit score %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("opportunity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetReviewFlags(ctx context.Context, id string, forBid, recommend model.ReviewFlag, comments, reviewedBy string, reviewedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET review_for_bid = $1, recommend_bid = $2, review_comments = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $6 WHERE id = $7`,
		string(forBid), string(recommend), comments, reviewedBy, reviewedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set review flags %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("opportunity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetFollowed(ctx context.Context, id string, followed bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET followed = $1, updated_at = $2 WHERE id = $3`,
		followed, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set followed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("opportunity not found: %s", id)
	}
	return nil
}

// ListOpportunitiesNeedingScore returns current (not superseded) opportunities
// with no fit score or a stale one, oldest first.
func (s *PostgresStore) ListOpportunitiesNeedingScore(ctx context.Context, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE (fit_score IS NULL OR score_stale) AND superseded_by_id IS NULL
		 ORDER BY posted_date ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list needing score")
	}
	defer rows.Close()
	return collectOpportunities(rows, "list needing score")
}

// ListOpportunitiesForSearch returns scored, current opportunities at or above
// the fit threshold that have not yet been searched. The NOT EXISTS keeps a
// batch run from re-querying the collaborator for opportunities already
// covered by logged attempts.
func (s *PostgresStore) ListOpportunitiesForSearch(ctx context.Context, fitThreshold float64, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities o
		 WHERE o.fit_score >= $1 AND NOT o.score_stale AND o.superseded_by_id IS NULL
		   AND NOT EXISTS (SELECT 1 FROM search_attempts sa WHERE sa.opportunity_id = o.id)
		 ORDER BY o.posted_date DESC LIMIT $2`,
		fitThreshold, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list for search")
	}
	defer rows.Close()
	return collectOpportunities(rows, "list for search")
}

// ListOpportunitiesForExport returns current opportunities that are either
// recommended for bid or carry a confirmed match, for CRM export.
func (s *PostgresStore) ListOpportunitiesForExport(ctx context.Context, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities o
		 WHERE o.superseded_by_id IS NULL
		   AND (o.recommend_bid = $1
		        OR EXISTS (SELECT 1 FROM matches m WHERE m.opportunity_id = o.id AND m.status = $2))
		 ORDER BY o.posted_date DESC LIMIT $3`,
		string(model.ReviewYes), string(model.MatchConfirmed), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list for export")
	}
	defer rows.Close()
	return collectOpportunities(rows, "list for export")
}

func (s *PostgresStore) ListBySolicitationBase(ctx context.Context, base string) ([]model.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE solicitation_base = $1 ORDER BY posted_date DESC`,
		base,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list by solicitation base %s", base)
	}
	defer rows.Close()
	return collectOpportunities(rows, "list by solicitation base")
}

// ListPredecessorCandidates returns current opportunities in the same
// department and classification code posted on or before the given date,
// newest first, for fuzzy amendment detection.
func (s *PostgresStore) ListPredecessorCandidates(ctx context.Context, department, classificationCode string, postedOnOrBefore time.Time) ([]model.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE department = $1 AND classification_code = $2
		   AND posted_date <= $3 AND superseded_by_id IS NULL
		 ORDER BY posted_date DESC`,
		department, classificationCode, postedOnOrBefore,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predecessor candidates")
	}
	defer rows.Close()
	return collectOpportunities(rows, "list predecessor candidates")
}

func collectOpportunities(rows pgx.Rows, op string) ([]model.Opportunity, error) {
	var out []model.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan opportunity (%s)", op)
		}
		out = append(out, *o)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

// UpsertHistoricalRecord inserts the record or, on an external_id hit,
// refreshes its denormalized fields. The stored row is returned either way so
// callers learn the internal id.
func (s *PostgresStore) UpsertHistoricalRecord(ctx context.Context, rec *model.HistoricalRecord) (*model.HistoricalRecord, error) {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	stored, err := scanRecord(s.pool.QueryRow(ctx,
		`INSERT INTO historical_records (
			id, external_id, title, gov_entity, classification_code, description,
			value, posted_date, award_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			gov_entity = EXCLUDED.gov_entity,
			classification_code = EXCLUDED.classification_code,
			description = EXCLUDED.description,
			value = EXCLUDED.value,
			posted_date = EXCLUDED.posted_date,
			award_date = EXCLUDED.award_date,
			updated_at = EXCLUDED.updated_at
		RETURNING `+recordColumns,
		id, rec.ExternalID, rec.Title, rec.GovEntity, rec.ClassificationCode,
		rec.Description, rec.Value, rec.PostedDate, rec.AwardDate, now, now,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert historical record %s", rec.ExternalID)
	}
	return stored, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, opportunityID, recordID string) (*model.Match, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE opportunity_id = $1 AND record_id = $2`,
		opportunityID, recordID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get match")
	}
	return m, nil
}

func (s *PostgresStore) GetMatchByID(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get match %s", id)
	}
	return m, nil
}

// CreateMatch inserts m unless the (opportunity, record) pair already exists.
// Returns true when a row was created. A duplicate pair is a no-op, not an
// error: the first strategy to surface a record owns the match.
func (s *PostgresStore) CreateMatch(ctx context.Context, m *model.Match) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = model.MatchPendingReview
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO matches (id, opportunity_id, record_id, strategy, score, rationale, status, notes, reviewed_by, reviewed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (opportunity_id, record_id) DO NOTHING`,
		m.ID, m.OpportunityID, m.RecordID, string(m.Strategy), m.Score, m.Rationale,
		string(m.Status), m.Notes, m.ReviewedBy, m.ReviewedAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert match")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListUnscoredMatches(ctx context.Context, limit int) ([]MatchDetail, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT
			m.id, m.opportunity_id, m.record_id, m.strategy, m.score, m.rationale,
			m.status, m.notes, m.reviewed_by, m.reviewed_at, m.created_at, m.updated_at,
			o.id, o.notice_id, o.title, o.department, o.solicitation_number,
			o.classification_code, o.naics_code, o.set_aside, o.place_of_performance,
			o.description,
			o.summary_description, o.posted_date, o.response_deadline, o.link,
			o.fit_score, o.justification, o.practice_area, o.score_stale,
			o.original_id, o.superseded_by_id, o.review_for_bid, o.recommend_bid,
			o.review_comments, o.reviewed_by, o.reviewed_at, o.followed,
			o.created_at, o.updated_at,
			r.id, r.external_id, r.title, r.gov_entity, r.classification_code,
			r.description, r.value, r.posted_date, r.award_date, r.created_at, r.updated_at
		 FROM matches m
		 JOIN opportunities o ON o.id = m.opportunity_id
		 JOIN historical_records r ON r.id = m.record_id
		 WHERE m.score IS NULL
		 ORDER BY m.created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unscored matches")
	}
	defer rows.Close()

	var out []MatchDetail
	for rows.Next() {
		var d MatchDetail
		m, o, r := &d.Match, &d.Opportunity, &d.Record
		err := rows.Scan(
			&m.ID, &m.OpportunityID, &m.RecordID, &m.Strategy, &m.Score, &m.Rationale,
			&m.Status, &m.Notes, &m.ReviewedBy, &m.ReviewedAt, &m.CreatedAt, &m.UpdatedAt,
			&o.ID, &o.NoticeID, &o.Title, &o.Department, &o.SolicitationNumber,
			&o.ClassificationCode, &o.NAICSCode, &o.SetAside, &o.PlaceOfPerformance,
			&o.Description,
			&o.SummaryDescription, &o.PostedDate, &o.ResponseDeadline, &o.Link,
			&o.FitScore, &o.Justification, &o.PracticeArea, &o.ScoreStale,
			&o.OriginalID, &o.SupersededByID, &o.ReviewForBid, &o.RecommendBid,
			&o.ReviewComments, &o.ReviewedBy, &o.ReviewedAt, &o.Followed,
			&o.CreatedAt, &o.UpdatedAt,
			&r.ID, &r.ExternalID, &r.Title, &r.GovEntity, &r.ClassificationCode,
			&r.Description, &r.Value, &r.PostedDate, &r.AwardDate, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan unscored match")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unscored matches iterate")
}

func (s *PostgresStore) SetMatchScore(ctx context.Context, id string, score int, rationale string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET score = $1, rationale = $2, updated_at = $3 WHERE id = $4`,
		score, rationale, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set match score %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("match not found: %s", id)
	}
	return nil
}

// SetMatchStatus moves a match between review states. The write is
// conditional on the status the caller last read; a lost race reports a
// ConflictError instead of overwriting the winner.
func (s *PostgresStore) SetMatchStatus(ctx context.Context, id string, from, to model.MatchStatus, notes, reviewedBy string, reviewedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET status = $1, notes = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $5 WHERE id = $6 AND status = $7`,
		string(to), notes, reviewedBy, reviewedAt, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set match status %s", id)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)`, id,
		).Scan(&exists); qerr != nil {
			return eris.Wrapf(qerr, "postgres: set match status %s", id)
		}
		if exists {
			return resilience.NewConflictError("match", id)
		}
		return eris.Errorf("match not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteMatch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete match %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("match not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) AppendSearchAttempt(ctx context.Context, a *model.SearchAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	params := a.Params
	if params == "" {
		params = "{}"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_attempts (id, opportunity_id, strategy, params, result_count, error_message, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.OpportunityID, string(a.Strategy), params, a.ResultCount,
		a.ErrorMessage, a.Elapsed.Milliseconds(), a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert search attempt")
}

func (s *PostgresStore) CountSearchAttempts(ctx context.Context, opportunityID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM search_attempts WHERE opportunity_id = $1`,
		opportunityID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count search attempts")
	}
	return n, nil
}

func (s *PostgresStore) Stats(ctx context.Context, fitThreshold float64) (*Stats, error) {
	st := &Stats{MatchesByStatus: map[string]int{}}

	err := s.pool.QueryRow(ctx,
		`SELECT
			count(*),
			count(*) FILTER (WHERE (fit_score IS NULL OR score_stale) AND superseded_by_id IS NULL),
			count(*) FILTER (WHERE fit_score >= $1 AND NOT score_stale AND superseded_by_id IS NULL)
		 FROM opportunities`,
		fitThreshold,
	).Scan(&st.Opportunities, &st.NeedingScore, &st.AboveThreshold)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats opportunities")
	}

	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM historical_records`).Scan(&st.HistoricalRecords)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats records")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE score IS NULL) FROM matches`,
	).Scan(&st.Matches, &st.UnscoredMatches)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats matches")
	}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM matches GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats match status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match status count")
		}
		st.MatchesByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats match status iterate")
	}

	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM search_attempts`).Scan(&st.SearchAttempts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats search attempts")
	}

	return st, nil
}
