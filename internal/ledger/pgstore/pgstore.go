package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) AppendOverride(ctx context.Context, rec types.OverrideRecord) error {
	if rec.OverrideID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO steward_override_history(override_id, ts, action_id, action_name, agent, category, override_by, approved_by, reason, expires_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.OverrideID, rec.Timestamp.UTC(), rec.ActionID, rec.Action, rec.Agent, rec.Category, rec.OverrideBy, rec.ApprovedBy, rec.Reason, nullTime(rec.ExpiresAt),
	)
	return translate(err)
}

func (s *Store) ListOverrides(ctx context.Context) ([]types.OverrideRecord, error) {
	return s.queryOverrides(ctx, `SELECT override_id, ts, action_id, action_name, agent, category, override_by, approved_by, reason, expires_at
FROM steward_override_history ORDER BY append_seq ASC`)
}

func (s *Store) FindOverrides(ctx context.Context, actionID, category string) ([]types.OverrideRecord, error) {
	return s.queryOverrides(ctx, `SELECT override_id, ts, action_id, action_name, agent, category, override_by, approved_by, reason, expires_at
FROM steward_override_history WHERE action_id = $1 AND category = $2 ORDER BY append_seq ASC`, actionID, category)
}

func (s *Store) queryOverrides(ctx context.Context, query string, args ...any) ([]types.OverrideRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.OverrideRecord{}
	for rows.Next() {
		var rec types.OverrideRecord
		var expires sql.NullTime
		if err := rows.Scan(&rec.OverrideID, &rec.Timestamp, &rec.ActionID, &rec.Action, &rec.Agent, &rec.Category, &rec.OverrideBy, &rec.ApprovedBy, &rec.Reason, &expires); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.ExpiresAt = timePtr(expires)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AppendFlag(ctx context.Context, flag types.FlaggedAction) error {
	if flag.FlagID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO steward_flagged_actions(flag_id, action_id, comment, submitted_by, ts) VALUES($1,$2,$3,$4,$5)`,
		flag.FlagID, flag.ActionID, flag.Comment, flag.SubmittedBy, flag.Timestamp.UTC(),
	)
	return translate(err)
}

func (s *Store) ListFlags(ctx context.Context) ([]types.FlaggedAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flag_id, action_id, comment, submitted_by, ts FROM steward_flagged_actions ORDER BY append_seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.FlaggedAction{}
	for rows.Next() {
		var flag types.FlaggedAction
		if err := rows.Scan(&flag.FlagID, &flag.ActionID, &flag.Comment, &flag.SubmittedBy, &flag.Timestamp); err != nil {
			return nil, err
		}
		flag.Timestamp = flag.Timestamp.UTC()
		out = append(out, flag)
	}
	return out, rows.Err()
}

func (s *Store) AppendResolution(ctx context.Context, res types.FlagResolution) error {
	if res.FlagID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO steward_flag_resolutions(flag_id, resolved_by, note, ts) VALUES($1,$2,$3,$4)`,
		res.FlagID, res.ResolvedBy, res.Note, res.Timestamp.UTC(),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyResolved, res.FlagID)
	}
	return translate(err)
}

func (s *Store) ListResolutions(ctx context.Context) ([]types.FlagResolution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flag_id, resolved_by, note, ts FROM steward_flag_resolutions ORDER BY append_seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.FlagResolution{}
	for rows.Next() {
		var res types.FlagResolution
		if err := rows.Scan(&res.FlagID, &res.ResolvedBy, &res.Note, &res.Timestamp); err != nil {
			return nil, err
		}
		res.Timestamp = res.Timestamp.UTC()
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *Store) AppendVote(ctx context.Context, vote types.CouncilVote) error {
	if vote.VoteID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO steward_council_votes(vote_id, version, vote, voter, ts) VALUES($1,$2,$3::steward_vote_choice,$4,$5)`,
		vote.VoteID, vote.Version, string(vote.Vote), vote.Voter, vote.Timestamp.UTC(),
	)
	return translate(err)
}

func (s *Store) ListVotes(ctx context.Context, version string) ([]types.CouncilVote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vote_id, version, vote::text, voter, ts FROM steward_council_votes WHERE version = $1 ORDER BY append_seq ASC`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.CouncilVote{}
	for rows.Next() {
		var vote types.CouncilVote
		var choice string
		if err := rows.Scan(&vote.VoteID, &vote.Version, &choice, &vote.Voter, &vote.Timestamp); err != nil {
			return nil, err
		}
		vote.Vote = types.VoteChoice(choice)
		vote.Timestamp = vote.Timestamp.UTC()
		out = append(out, vote)
	}
	return out, rows.Err()
}

func (s *Store) AppendAuditEvent(ctx context.Context, ev types.AuditEvent) error {
	meta := "{}"
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO steward_audit_events(seq, event_id, ts, actor_id, subsystem, action, policy_version, verdict, reason_code, request_id, metadata_json, prev_digest, digest, key_id, sig)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13,$14,$15)`,
		ev.Seq, ev.EventID, ev.Timestamp.UTC(), ev.ActorID, ev.Subsystem, ev.Action, ev.PolicyVersion, ev.Verdict, ev.ReasonCode, ev.RequestID, meta, ev.PrevDigest, ev.Digest, ev.KeyID, ev.Sig,
	)
	if err := translate(err); err != nil {
		if errors.Is(err, ledger.ErrDuplicateID) {
			return fmt.Errorf("%w: seq %d", ledger.ErrSeqConflict, ev.Seq)
		}
		return err
	}
	return nil
}

const auditColumns = `seq, event_id, ts, actor_id, subsystem, action, policy_version, verdict, reason_code, request_id, metadata_json::text, prev_digest, digest, key_id, sig`

func (s *Store) ListAuditEvents(ctx context.Context, filter ledger.AuditFilter) ([]types.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM steward_audit_events WHERE seq > $1`
	args := []any{filter.AfterSeq}
	if filter.RequestID != "" {
		args = append(args, filter.RequestID)
		query += fmt.Sprintf(` AND request_id = $%d`, len(args))
	}
	if filter.Subsystem != "" {
		args = append(args, filter.Subsystem)
		query += fmt.Sprintf(` AND subsystem = $%d`, len(args))
	}
	query += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.AuditEvent{}
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) LastAuditEvent(ctx context.Context) (types.AuditEvent, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM steward_audit_events ORDER BY seq DESC LIMIT 1`)
	ev, err := scanAuditEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AuditEvent{}, false, nil
	}
	if err != nil {
		return types.AuditEvent{}, false, err
	}
	return ev, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAuditEvent(row scanner) (types.AuditEvent, error) {
	var ev types.AuditEvent
	var meta string
	if err := row.Scan(&ev.Seq, &ev.EventID, &ev.Timestamp, &ev.ActorID, &ev.Subsystem, &ev.Action, &ev.PolicyVersion, &ev.Verdict, &ev.ReasonCode, &ev.RequestID, &meta, &ev.PrevDigest, &ev.Digest, &ev.KeyID, &ev.Sig); err != nil {
		return types.AuditEvent{}, err
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
			return types.AuditEvent{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return ev, nil
}

func (s *Store) PutEscalation(ctx context.Context, rec ledger.EscalationRecord) error {
	if rec.EscalationID == "" {
		return ledger.ErrMissingID
	}
	if !json.Valid(rec.PayloadJSON) {
		return ledger.ErrInvalidPayload
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO steward_escalation_outbox(escalation_id, request_id, action_id, reason_code, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES($1,$2,$3,$4,$5::jsonb,$6::steward_escalation_status,$7,$8,$9,$10,$11,$12)
ON CONFLICT(escalation_id) DO UPDATE SET
  status=excluded.status,
  attempt_count=excluded.attempt_count,
  next_attempt_at=excluded.next_attempt_at,
  last_error=excluded.last_error,
  sent_at=excluded.sent_at,
  updated_at=excluded.updated_at`,
		rec.EscalationID,
		rec.RequestID,
		rec.ActionID,
		rec.ReasonCode,
		string(rec.PayloadJSON),
		rec.Status,
		rec.AttemptCount,
		rec.NextAttemptAt.UTC(),
		rec.LastError,
		nullTime(rec.SentAt),
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	return err
}

const escalationColumns = `escalation_id, request_id, action_id, reason_code, payload_json::text, status::text, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func (s *Store) GetEscalation(ctx context.Context, escalationID string) (ledger.EscalationRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM steward_escalation_outbox WHERE escalation_id = $1`, escalationID)
	rec, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.EscalationRecord{}, false, nil
	}
	if err != nil {
		return ledger.EscalationRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListEscalationsDue(ctx context.Context, now time.Time, limit int) ([]ledger.EscalationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+escalationColumns+`
FROM steward_escalation_outbox
WHERE status = 'pending' AND next_attempt_at <= $1
ORDER BY created_at ASC
LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.EscalationRecord{}
	for rows.Next() {
		rec, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanEscalation(row scanner) (ledger.EscalationRecord, error) {
	var rec ledger.EscalationRecord
	var payload string
	var sent sql.NullTime
	if err := row.Scan(&rec.EscalationID, &rec.RequestID, &rec.ActionID, &rec.ReasonCode, &payload, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &sent, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.EscalationRecord{}, err
	}
	rec.PayloadJSON = []byte(payload)
	rec.NextAttemptAt = rec.NextAttemptAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.SentAt = timePtr(sent)
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// translate maps Postgres constraint violations onto ledger sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateID, pqErr.Constraint)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", ledger.ErrUnknownFlag, pqErr.Detail)
		}
	}
	return err
}
