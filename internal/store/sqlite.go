package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Single-operator
// deployments that do not want to run Postgres use this backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS opportunities (
	id                  TEXT PRIMARY KEY,
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
	posted_date         DATETIME NOT NULL,
	response_deadline   DATETIME NOT NULL,
	link                TEXT NOT NULL DEFAULT '',
	fit_score           REAL,
	justification       TEXT NOT NULL DEFAULT '',
	practice_area       TEXT NOT NULL DEFAULT '',
	score_stale         INTEGER NOT NULL DEFAULT 0,
	original_id         TEXT,
	superseded_by_id    TEXT,
	review_for_bid      TEXT NOT NULL DEFAULT 'Pending',
	recommend_bid       TEXT NOT NULL DEFAULT 'Pending',
	review_comments     TEXT NOT NULL DEFAULT '',
	reviewed_by         TEXT NOT NULL DEFAULT '',
	reviewed_at         DATETIME,
	followed            INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_opportunities_solicitation_base ON opportunities(solicitation_base);
CREATE INDEX IF NOT EXISTS idx_opportunities_fit_score ON opportunities(fit_score);
CREATE INDEX IF NOT EXISTS idx_opportunities_dept_code ON opportunities(department, classification_code);

CREATE TABLE IF NOT EXISTS historical_records (
	id                  TEXT PRIMARY KEY,
	external_id         TEXT NOT NULL UNIQUE,
	title               TEXT NOT NULL,
	gov_entity          TEXT NOT NULL DEFAULT '',
	classification_code TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	value               REAL NOT NULL DEFAULT 0,
	posted_date         DATETIME,
	award_date          DATETIME,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS matches (
	id             TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL REFERENCES opportunities(id),
	record_id      TEXT NOT NULL REFERENCES historical_records(id),
	strategy       TEXT NOT NULL,
	score          INTEGER,
	rationale      TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending_review',
	notes          TEXT NOT NULL DEFAULT '',
	reviewed_by    TEXT NOT NULL DEFAULT '',
	reviewed_at    DATETIME,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (opportunity_id, record_id)
);

CREATE INDEX IF NOT EXISTS idx_matches_opportunity_id ON matches(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status);

CREATE TABLE IF NOT EXISTS search_attempts (
	id             TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	strategy       TEXT NOT NULL,
	params         TEXT NOT NULL DEFAULT '{}',
	result_count   INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	elapsed_ms     INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_search_attempts_opportunity_id ON search_attempts(opportunity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) GetOpportunityByNoticeID(ctx context.Context, noticeID string) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.db.QueryRowContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE notice_id = ?`,
		noticeID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get opportunity by notice %s", noticeID)
	}
	return o, nil
}

func (s *SQLiteStore) GetOpportunityByID(ctx context.Context, id string) (*model.Opportunity, error) {
	o, err := scanOpportunity(s.db.QueryRowContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get opportunity %s", id)
	}
	return o, nil
}

func (s *SQLiteStore) CreateOpportunity(ctx context.Context, opp *model.Opportunity) error {
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

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO opportunities (
			id, notice_id, title, department, solicitation_number, solicitation_base,
			classification_code, naics_code, set_aside, place_of_performance,
			description, summary_description,
			posted_date, response_deadline, link, fit_score, justification, practice_area,
			score_stale, original_id, superseded_by_id, review_for_bid, recommend_bid,
			review_comments, reviewed_by, reviewed_at, followed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (notice_id) DO NOTHING`,
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
		return eris.Wrapf(err, "sqlite: insert opportunity %s", opp.NoticeID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return resilience.NewConflictError("opportunity", opp.NoticeID)
	}
	return nil
}

// MarkSuperseded claims the forward pointer on a current opportunity. The
// pointer is written at most once: a row already superseded reports a
// ConflictError so the caller can re-read and follow the chain forward.
func (s *SQLiteStore) MarkSuperseded(ctx context.Context, noticeID, supersededByNoticeID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE opportunities
		 SET superseded_by_id = (SELECT id FROM opportunities WHERE notice_id = ?),
		     updated_at = ?
		 WHERE notice_id = ? AND superseded_by_id IS NULL`,
		supersededByNoticeID, time.Now().UTC(), noticeID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark superseded %s", noticeID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM opportunities WHERE notice_id = ?)`, noticeID,
		).Scan(&exists); qerr != nil {
			return eris.Wrapf(qerr, "sqlite: mark superseded %s", noticeID)
		}
		if exists {
			return resilience.NewConflictError("opportunity", noticeID)
		}
		return eris.Errorf("opportunity not found: %s", noticeID)
	}
	return nil
}

func (s *SQLiteStore) SetFitScore(ctx context.Context, id string, score float64, justification, summary, practiceArea string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE opportunities SET fit_score = ?, justification = ?, summary_description = ?, practice_area = ?, score_stale = 0, updated_at = ? WHERE id = ?`,
		score, justification, summary, practiceArea, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set fit score %s", id)
	}
	return checkRowsAffected(res, "opportunity", id)
}

func (s *SQLiteStore) SetReviewFlags(ctx context.Context, id string, forBid, recommend model.ReviewFlag, comments, reviewedBy string, reviewedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE opportunities SET review_for_bid = ?, recommend_bid = ?, review_comments = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ? WHERE id = ?`,
		string(forBid), string(recommend), comments, reviewedBy, reviewedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set review flags %s", id)
	}
	return checkRowsAffected(res, "opportunity", id)
}

func (s *SQLiteStore) SetFollowed(ctx context.Context, id string, followed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE opportunities SET followed = ?, updated_at = ? WHERE id = ?`,
		followed, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set followed %s", id)
	}
	return checkRowsAffected(res, "opportunity", id)
}

func (s *SQLiteStore) ListOpportunitiesNeedingScore(ctx context.Context, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE (fit_score IS NULL OR score_stale) AND superseded_by_id IS NULL
		 ORDER BY posted_date ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list needing score")
	}
	defer rows.Close()
	return collectOpportunitiesSQL(rows, "list needing score")
}

func (s *SQLiteStore) ListOpportunitiesForSearch(ctx context.Context, fitThreshold float64, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities o
		 WHERE o.fit_score >= ? AND NOT o.score_stale AND o.superseded_by_id IS NULL
		   AND NOT EXISTS (SELECT 1 FROM search_attempts sa WHERE sa.opportunity_id = o.id)
		 ORDER BY o.posted_date DESC LIMIT ?`,
		fitThreshold, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list for search")
	}
	defer rows.Close()
	return collectOpportunitiesSQL(rows, "list for search")
}

func (s *SQLiteStore) ListOpportunitiesForExport(ctx context.Context, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities o
		 WHERE o.superseded_by_id IS NULL
		   AND (o.recommend_bid = ?
		        OR EXISTS (SELECT 1 FROM matches m WHERE m.opportunity_id = o.id AND m.status = ?))
		 ORDER BY o.posted_date DESC LIMIT ?`,
		string(model.ReviewYes), string(model.MatchConfirmed), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list for export")
	}
	defer rows.Close()
	return collectOpportunitiesSQL(rows, "list for export")
}

func (s *SQLiteStore) ListBySolicitationBase(ctx context.Context, base string) ([]model.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE solicitation_base = ? ORDER BY posted_date DESC`,
		base,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list by solicitation base %s", base)
	}
	defer rows.Close()
	return collectOpportunitiesSQL(rows, "list by solicitation base")
}

func (s *SQLiteStore) ListPredecessorCandidates(ctx context.Context, department, classificationCode string, postedOnOrBefore time.Time) ([]model.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE department = ? AND classification_code = ?
		   AND posted_date <= ? AND superseded_by_id IS NULL
		 ORDER BY posted_date DESC`,
		department, classificationCode, postedOnOrBefore,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predecessor candidates")
	}
	defer rows.Close()
	return collectOpportunitiesSQL(rows, "list predecessor candidates")
}

func collectOpportunitiesSQL(rows *sql.Rows, op string) ([]model.Opportunity, error) {
	var out []model.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan opportunity (%s)", op)
		}
		out = append(out, *o)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) UpsertHistoricalRecord(ctx context.Context, rec *model.HistoricalRecord) (*model.HistoricalRecord, error) {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO historical_records (
			id, external_id, title, gov_entity, classification_code, description,
			value, posted_date, award_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			title = excluded.title,
			gov_entity = excluded.gov_entity,
			classification_code = excluded.classification_code,
			description = excluded.description,
			value = excluded.value,
			posted_date = excluded.posted_date,
			award_date = excluded.award_date,
			updated_at = excluded.updated_at`,
		id, rec.ExternalID, rec.Title, rec.GovEntity, rec.ClassificationCode,
		rec.Description, rec.Value, rec.PostedDate, rec.AwardDate, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert historical record %s", rec.ExternalID)
	}

	stored, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM historical_records WHERE external_id = ?`,
		rec.ExternalID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read back historical record %s", rec.ExternalID)
	}
	return stored, nil
}

func (s *SQLiteStore) GetMatch(ctx context.Context, opportunityID, recordID string) (*model.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE opportunity_id = ? AND record_id = ?`,
		opportunityID, recordID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get match")
	}
	return m, nil
}

func (s *SQLiteStore) GetMatchByID(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get match %s", id)
	}
	return m, nil
}

func (s *SQLiteStore) CreateMatch(ctx context.Context, m *model.Match) (bool, error) {
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

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (id, opportunity_id, record_id, strategy, score, rationale, status, notes, reviewed_by, reviewed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (opportunity_id, record_id) DO NOTHING`,
		m.ID, m.OpportunityID, m.RecordID, string(m.Strategy), m.Score, m.Rationale,
		string(m.Status), m.Notes, m.ReviewedBy, m.ReviewedAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert match")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListUnscoredMatches(ctx context.Context, limit int) ([]MatchDetail, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
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
		 ORDER BY m.created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unscored matches")
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
			return nil, eris.Wrap(err, "sqlite: scan unscored match")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unscored matches iterate")
}

func (s *SQLiteStore) SetMatchScore(ctx context.Context, id string, score int, rationale string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET score = ?, rationale = ?, updated_at = ? WHERE id = ?`,
		score, rationale, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set match score %s", id)
	}
	return checkRowsAffected(res, "match", id)
}

// SetMatchStatus moves a match between review states. The write is
// conditional on the status the caller last read; a lost race reports a
// ConflictError instead of overwriting the winner.
func (s *SQLiteStore) SetMatchStatus(ctx context.Context, id string, from, to model.MatchStatus, notes, reviewedBy string, reviewedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = ?, notes = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), notes, reviewedBy, reviewedAt, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set match status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM matches WHERE id = ?)`, id,
		).Scan(&exists); qerr != nil {
			return eris.Wrapf(qerr, "sqlite: set match status %s", id)
		}
		if exists {
			return resilience.NewConflictError("match", id)
		}
		return eris.Errorf("match not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteMatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete match %s", id)
	}
	return checkRowsAffected(res, "match", id)
}

func (s *SQLiteStore) AppendSearchAttempt(ctx context.Context, a *model.SearchAttempt) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_attempts (id, opportunity_id, strategy, params, result_count, error_message, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OpportunityID, string(a.Strategy), params, a.ResultCount,
		a.ErrorMessage, a.Elapsed.Milliseconds(), a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert search attempt")
}

func (s *SQLiteStore) CountSearchAttempts(ctx context.Context, opportunityID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM search_attempts WHERE opportunity_id = ?`,
		opportunityID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count search attempts")
	}
	return n, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, fitThreshold float64) (*Stats, error) {
	st := &Stats{MatchesByStatus: map[string]int{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT
			count(*),
			coalesce(sum(CASE WHEN (fit_score IS NULL OR score_stale) AND superseded_by_id IS NULL THEN 1 ELSE 0 END), 0),
			coalesce(sum(CASE WHEN fit_score >= ? AND NOT score_stale AND superseded_by_id IS NULL THEN 1 ELSE 0 END), 0)
		 FROM opportunities`,
		fitThreshold,
	).Scan(&st.Opportunities, &st.NeedingScore, &st.AboveThreshold)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats opportunities")
	}

	err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM historical_records`).Scan(&st.HistoricalRecords)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats records")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(CASE WHEN score IS NULL THEN 1 ELSE 0 END), 0) FROM matches`,
	).Scan(&st.Matches, &st.UnscoredMatches)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats matches")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM matches GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats match status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match status count")
		}
		st.MatchesByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats match status iterate")
	}

	err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM search_attempts`).Scan(&st.SearchAttempts)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats search attempts")
	}

	return st, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
