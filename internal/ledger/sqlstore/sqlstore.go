package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) AppendOverride(ctx context.Context, rec types.OverrideRecord) error {
	if rec.OverrideID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_override_history(override_id, ts, action_id, action_name, agent, category, override_by, approved_by, reason, expires_at)
VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.OverrideID, formatTime(rec.Timestamp), rec.ActionID, rec.Action, rec.Agent, rec.Category, rec.OverrideBy, rec.ApprovedBy, rec.Reason, formatTimePtr(rec.ExpiresAt),
	)
	return wrapConstraint(err)
}

func (s *Store) ListOverrides(ctx context.Context) ([]types.OverrideRecord, error) {
	return s.queryOverrides(ctx, `SELECT override_id, ts, action_id, action_name, agent, category, override_by, approved_by, reason, expires_at
FROM audit_override_history ORDER BY rowid ASC`)
}

func (s *Store) FindOverrides(ctx context.Context, actionID, category string) ([]types.OverrideRecord, error) {
	return s.queryOverrides(ctx, `SELECT override_id, ts, action_id, action_name, agent, category, override_by, approved_by, reason, expires_at
FROM audit_override_history WHERE action_id = ? AND category = ? ORDER BY rowid ASC`, actionID, category)
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
		var ts string
		var expires sql.NullString
		if err := rows.Scan(&rec.OverrideID, &ts, &rec.ActionID, &rec.Action, &rec.Agent, &rec.Category, &rec.OverrideBy, &rec.ApprovedBy, &rec.Reason, &expires); err != nil {
			return nil, err
		}
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if rec.ExpiresAt, err = parseNullTime(expires); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AppendFlag(ctx context.Context, flag types.FlaggedAction) error {
	if flag.FlagID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_flagged_actions(flag_id, action_id, comment, submitted_by, ts) VALUES(?,?,?,?,?)`,
		flag.FlagID, flag.ActionID, flag.Comment, flag.SubmittedBy, formatTime(flag.Timestamp),
	)
	return wrapConstraint(err)
}

func (s *Store) ListFlags(ctx context.Context) ([]types.FlaggedAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flag_id, action_id, comment, submitted_by, ts FROM audit_flagged_actions ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.FlaggedAction{}
	for rows.Next() {
		var flag types.FlaggedAction
		var ts string
		if err := rows.Scan(&flag.FlagID, &flag.ActionID, &flag.Comment, &flag.SubmittedBy, &ts); err != nil {
			return nil, err
		}
		if flag.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, flag)
	}
	return out, rows.Err()
}

func (s *Store) AppendResolution(ctx context.Context, res types.FlagResolution) error {
	if res.FlagID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_flag_resolutions(flag_id, resolved_by, note, ts) VALUES(?,?,?,?)`,
		res.FlagID, res.ResolvedBy, res.Note, formatTime(res.Timestamp),
	)
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "FOREIGN KEY"):
		return fmt.Errorf("%w: %s", ledger.ErrUnknownFlag, res.FlagID)
	case strings.Contains(err.Error(), "UNIQUE"):
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyResolved, res.FlagID)
	}
	return err
}

func (s *Store) ListResolutions(ctx context.Context) ([]types.FlagResolution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flag_id, resolved_by, note, ts FROM audit_flag_resolutions ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.FlagResolution{}
	for rows.Next() {
		var res types.FlagResolution
		var ts string
		if err := rows.Scan(&res.FlagID, &res.ResolvedBy, &res.Note, &ts); err != nil {
			return nil, err
		}
		if res.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *Store) AppendVote(ctx context.Context, vote types.CouncilVote) error {
	if vote.VoteID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_council_votes(vote_id, version, vote, voter, ts) VALUES(?,?,?,?,?)`,
		vote.VoteID, vote.Version, string(vote.Vote), vote.Voter, formatTime(vote.Timestamp),
	)
	return wrapConstraint(err)
}

func (s *Store) ListVotes(ctx context.Context, version string) ([]types.CouncilVote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vote_id, version, vote, voter, ts FROM audit_council_votes WHERE version = ? ORDER BY rowid ASC`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.CouncilVote{}
	for rows.Next() {
		var vote types.CouncilVote
		var choice, ts string
		if err := rows.Scan(&vote.VoteID, &vote.Version, &choice, &vote.Voter, &ts); err != nil {
			return nil, err
		}
		vote.Vote = types.VoteChoice(choice)
		if vote.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, vote)
	}
	return out, rows.Err()
}

func (s *Store) AppendAuditEvent(ctx context.Context, ev types.AuditEvent) error {
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_events(seq, event_id, ts, actor_id, subsystem, action, policy_version, verdict, reason_code, request_id, metadata_json, prev_digest, digest, key_id, sig)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.Seq, ev.EventID, formatTime(ev.Timestamp), ev.ActorID, ev.Subsystem, ev.Action, ev.PolicyVersion, ev.Verdict, ev.ReasonCode, ev.RequestID, meta, ev.PrevDigest, ev.Digest, ev.KeyID, ev.Sig,
	)
	if err != nil && isConstraint(err) {
		return fmt.Errorf("%w: seq %d", ledger.ErrSeqConflict, ev.Seq)
	}
	return err
}

const auditColumns = `seq, event_id, ts, actor_id, subsystem, action, policy_version, verdict, reason_code, request_id, metadata_json, prev_digest, digest, key_id, sig`

func (s *Store) ListAuditEvents(ctx context.Context, filter ledger.AuditFilter) ([]types.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE seq > ?`
	args := []any{filter.AfterSeq}
	if filter.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, filter.RequestID)
	}
	if filter.Subsystem != "" {
		query += ` AND subsystem = ?`
		args = append(args, filter.Subsystem)
	}
	query += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
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
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_events ORDER BY seq DESC LIMIT 1`)
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
	var ts, meta string
	if err := row.Scan(&ev.Seq, &ev.EventID, &ts, &ev.ActorID, &ev.Subsystem, &ev.Action, &ev.PolicyVersion, &ev.Verdict, &ev.ReasonCode, &ev.RequestID, &meta, &ev.PrevDigest, &ev.Digest, &ev.KeyID, &ev.Sig); err != nil {
		return types.AuditEvent{}, err
	}
	var err error
	if ev.Timestamp, err = parseTime(ts); err != nil {
		return types.AuditEvent{}, err
	}
	if ev.Metadata, err = decodeMetadata(meta); err != nil {
		return types.AuditEvent{}, err
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO escalation_outbox(escalation_id, request_id, action_id, reason_code, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
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
		formatTime(rec.NextAttemptAt),
		rec.LastError,
		formatTimePtr(rec.SentAt),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	return err
}

const escalationColumns = `escalation_id, request_id, action_id, reason_code, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func (s *Store) GetEscalation(ctx context.Context, escalationID string) (ledger.EscalationRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalation_outbox WHERE escalation_id = ?`, escalationID)
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
FROM escalation_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`, formatTime(now), limit)
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
	var payload, next, created, updated string
	var sent sql.NullString
	if err := row.Scan(&rec.EscalationID, &rec.RequestID, &rec.ActionID, &rec.ReasonCode, &payload, &rec.Status, &rec.AttemptCount, &next, &rec.LastError, &sent, &created, &updated); err != nil {
		return ledger.EscalationRecord{}, err
	}
	rec.PayloadJSON = []byte(payload)
	var err error
	if rec.NextAttemptAt, err = parseTime(next); err != nil {
		return ledger.EscalationRecord{}, err
	}
	if rec.SentAt, err = parseNullTime(sent); err != nil {
		return ledger.EscalationRecord{}, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return ledger.EscalationRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.EscalationRecord{}, err
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(ledger.TimeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(ledger.TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func isConstraint(err error) bool {
	return strings.Contains(err.Error(), "constraint failed")
}

func wrapConstraint(err error) error {
	if err != nil && isConstraint(err) {
		return fmt.Errorf("%w: %v", ledger.ErrDuplicateID, err)
	}
	return err
}
