package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/proctor/internal/domain/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS proctor_reports (
	session_id       TEXT PRIMARY KEY,
	interview_ref    TEXT NOT NULL DEFAULT '',
	sensitivity      TEXT NOT NULL,
	started_at       TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ,
	frames_seen      INTEGER NOT NULL,
	frames_with_face INTEGER NOT NULL,
	integrity_score  DOUBLE PRECISION NOT NULL,
	recommendation   TEXT NOT NULL,
	review_required  BOOLEAN NOT NULL,
	audit_digest     TEXT NOT NULL,
	report           JSONB NOT NULL,
	archived_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS proctor_violations (
	session_id   TEXT NOT NULL REFERENCES proctor_reports (session_id) ON DELETE CASCADE,
	sequence     INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	severity     TEXT NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	frame_number INTEGER NOT NULL DEFAULT 0,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	detail       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, sequence)
);

CREATE INDEX IF NOT EXISTS proctor_violations_kind_idx ON proctor_violations (kind);
`

const insertReport = `
INSERT INTO proctor_reports (
	session_id, interview_ref, sensitivity, started_at, ended_at, frames_seen, frames_with_face,
	integrity_score, recommendation, review_required, audit_digest, report
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id) DO NOTHING`

const insertViolation = `
INSERT INTO proctor_violations (
	session_id, sequence, kind, severity, occurred_at, frame_number, confidence, detail
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, sequence) DO NOTHING`

// DB is the subset of *pgxpool.Pool the archive needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres stores final reports and the full violation log.
type Postgres struct {
	db DB
}

// NewPostgresPool creates a pgx connection pool and verifies connectivity.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgres wraps db.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Name identifies the target in metrics and logs.
func (p *Postgres) Name() string { return "postgres" }

// EnsureSchema creates the archive tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

// Archive writes the report row and every violation in one batch. The batch
// runs in an implicit transaction, so a failure leaves nothing behind.
func (p *Postgres) Archive(ctx context.Context, rec model.ArchiveRecord) error {
	r := rec.Report
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", r.SessionID, err)
	}

	b := &pgx.Batch{}
	b.Queue(insertReport,
		r.SessionID, r.InterviewRef, string(r.Sensitivity), nullableTime(r.StartedAt), nullableTime(r.EndedAt),
		r.FramesSeen, r.FramesWithFace, r.Metrics.IntegrityScore, string(r.Recommendation),
		r.ReviewRequired, r.AuditDigest, doc,
	)
	for _, v := range rec.Violations {
		b.Queue(insertViolation,
			r.SessionID, v.Sequence, string(v.Kind), string(v.Severity), v.Timestamp,
			v.FrameNumber, v.Confidence, v.Detail,
		)
	}

	results := p.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("archive session %s (statement %d): %w", r.SessionID, i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("archive session %s: %w", r.SessionID, err)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
