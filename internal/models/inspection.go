// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/drivedex/internal/dbinterface"
)

var (
	ErrSessionNotFound  = errors.New("inspection session not found")
	ErrSessionActive    = errors.New("drive already has an active inspection session")
	ErrSessionNotActive = errors.New("inspection session is not active")
	ErrPassNotFound     = errors.New("inspection pass not found")
	ErrPassOrder        = errors.New("earlier passes must complete before this pass can start")
	ErrPassState        = errors.New("pass is not in a state that allows this transition")
	ErrPassNotSkippable = errors.New("only passes 2 and 3 may be skipped")
	ErrSkipReason       = errors.New("skip requires a reason")
	ErrSessionNotDone   = errors.New("all passes must be completed or skipped first")
	ErrDecisionNotFound = errors.New("decision not found")
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

type PassStatus string

const (
	PassStatusPending    PassStatus = "pending"
	PassStatusInProgress PassStatus = "running"
	PassStatusCompleted  PassStatus = "completed"
	PassStatusFailed     PassStatus = "failed"
	PassStatusSkipped    PassStatus = "skipped"
)

const PassCount = 4

// passNames indexes pass numbers 1..4.
var passNames = [PassCount + 1]string{"", "health", "os_detection", "metadata", "review"}

// PassName returns the canonical name for a pass number, or "" when the
// number is out of range.
func PassName(n int) string {
	if n < 1 || n > PassCount {
		return ""
	}
	return passNames[n]
}

// InspectionSession is one four-pass inspection attempt over a drive.
type InspectionSession struct {
	ID          int64             `json:"id"`
	DriveID     int64             `json:"driveId"`
	MountPoint  string            `json:"mountPoint"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Status      SessionStatus     `json:"status"`
	CurrentPass int               `json:"currentPass"`
	Passes      []*InspectionPass `json:"passes,omitempty"`
}

type InspectionPass struct {
	ID           int64      `json:"id"`
	SessionID    int64      `json:"sessionId"`
	PassNumber   int        `json:"passNumber"`
	PassName     string     `json:"passName"`
	Status       PassStatus `json:"status"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ReportJSON   string     `json:"-"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Decision is one operator choice recorded during review. DecisionKey is the
// idempotency key within a session.
type Decision struct {
	ID            int64     `json:"id"`
	SessionID     int64     `json:"sessionId"`
	DecisionType  string    `json:"decisionType"`
	DecisionKey   string    `json:"decisionKey"`
	DecisionValue string    `json:"decisionValue"`
	Description   string    `json:"description,omitempty"`
	DecidedBy     string    `json:"decidedBy"`
	DecidedAt     time.Time `json:"decidedAt"`
}

// InspectionStore owns the pass state machine. All ordering and status
// preconditions are enforced here so callers cannot corrupt a session by
// issuing operations out of order.
type InspectionStore struct {
	db dbinterface.Querier
	tx dbinterface.TxBeginner
}

func NewInspectionStore(db dbinterface.Querier, tx dbinterface.TxBeginner) *InspectionStore {
	return &InspectionStore{db: db, tx: tx}
}

// CreateSession opens a session with all four pass rows pending, atomically.
// A drive can have at most one active session at a time.
func (s *InspectionStore) CreateSession(ctx context.Context, driveID int64, mountPoint string) (*InspectionSession, error) {
	tx, err := s.tx.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM inspection_sessions WHERE drive_id = ? AND status = ?",
		driveID, SessionStatusActive,
	).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("check active sessions: %w", err)
	}
	if active > 0 {
		return nil, ErrSessionActive
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO inspection_sessions (drive_id, mount_point, started_at, status, current_pass)
		VALUES (?, ?, ?, ?, 1)
	`, driveID, mountPoint, now, SessionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	sessionID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get session id: %w", err)
	}

	session := &InspectionSession{
		ID:          sessionID,
		DriveID:     driveID,
		MountPoint:  mountPoint,
		StartedAt:   now,
		Status:      SessionStatusActive,
		CurrentPass: 1,
	}

	for n := 1; n <= PassCount; n++ {
		passRes, err := tx.ExecContext(ctx, `
			INSERT INTO inspection_passes (session_id, pass_number, pass_name, status)
			VALUES (?, ?, ?, ?)
		`, sessionID, n, PassName(n), PassStatusPending)
		if err != nil {
			return nil, fmt.Errorf("insert pass %d: %w", n, err)
		}
		passID, _ := passRes.LastInsertId()
		session.Passes = append(session.Passes, &InspectionPass{
			ID:         passID,
			SessionID:  sessionID,
			PassNumber: n,
			PassName:   PassName(n),
			Status:     PassStatusPending,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return session, nil
}

func (s *InspectionStore) GetSession(ctx context.Context, id int64) (*InspectionSession, error) {
	session, err := s.getSessionRow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	passes, err := s.ListPasses(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Passes = passes
	return session, nil
}

func (s *InspectionStore) ListSessions(ctx context.Context, status SessionStatus) ([]*InspectionSession, error) {
	query := `
		SELECT session_id, drive_id, mount_point, started_at, completed_at, status, current_pass
		FROM inspection_sessions
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*InspectionSession
	for rows.Next() {
		session, err := scanSessionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *InspectionStore) ListPasses(ctx context.Context, sessionID int64) ([]*InspectionPass, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass_id, session_id, pass_number, pass_name, status,
		       started_at, completed_at, report_json, error_message
		FROM inspection_passes
		WHERE session_id = ?
		ORDER BY pass_number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var passes []*InspectionPass
	for rows.Next() {
		pass, err := scanPassRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		passes = append(passes, pass)
	}
	return passes, rows.Err()
}

func (s *InspectionStore) GetPass(ctx context.Context, sessionID int64, passNumber int) (*InspectionPass, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pass_id, session_id, pass_number, pass_name, status,
		       started_at, completed_at, report_json, error_message
		FROM inspection_passes
		WHERE session_id = ? AND pass_number = ?
	`, sessionID, passNumber)

	pass, err := scanPassRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPassNotFound
	}
	return pass, err
}

/// StartPass transitions a pass to running. Preconditions: the session is
// active, every earlier pass is completed or skipped, and the pass itself is
// pending or failed (failed passes may be retried). Rejection leaves all rows
// untouched.
func (s *InspectionStore) StartPass(ctx context.Context, sessionID int64, passNumber int) error {
	if passNumber < 1 || passNumber > PassCount {
		return ErrPassNotFound
	}

	tx, err := s.tx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin start pass: %w", err)
	}
	defer tx.Rollback()

	session, err := s.getSessionRow(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != SessionStatusActive {
		return ErrSessionNotActive
	}

	var unfinished int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM inspection_passes
		WHERE session_id = ? AND pass_number < ? AND status NOT IN (?, ?)
	`, sessionID, passNumber, PassStatusCompleted, PassStatusSkipped).Scan(&unfinished)
	if err != nil {
		return fmt.Errorf("check pass order: %w", err)
	}
	if unfinished > 0 {
		return ErrPassOrder
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE inspection_passes
		SET status = ?, started_at = ?, completed_at = NULL, error_message = NULL
		WHERE session_id = ? AND pass_number = ? AND status IN (?, ?)
	`, PassStatusInProgress, time.Now(), sessionID, passNumber, PassStatusPending, PassStatusFailed)
	if err != nil {
		return fmt.Errorf("start pass: %w", err)
	}
	if err := requireAffected(res, ErrPassState); err != nil {
		return err
	}

	// current_pass only ever advances.
	if _, err := tx.ExecContext(ctx, `
		UPDATE inspection_sessions
		SET current_pass = MAX(current_pass, ?)
		WHERE session_id = ?
	`, passNumber, sessionID); err != nil {
		return fmt.Errorf("advance current pass: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit start pass: %w", err)
	}
	return nil
}

// CompletePass records the pass report and marks the pass completed.
func (s *InspectionStore) CompletePass(ctx context.Context, sessionID int64, passNumber int, reportJSON string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inspection_passes
		SET status = ?, completed_at = ?, report_json = ?, error_message = NULL
		WHERE session_id = ? AND pass_number = ? AND status = ?
	`, PassStatusCompleted, time.Now(), reportJSON, sessionID, passNumber, PassStatusInProgress)
	if err != nil {
		return fmt.Errorf("complete pass: %w", err)
	}
	return requireAffected(res, ErrPassState)
}

func (s *InspectionStore) FailPass(ctx context.Context, sessionID int64, passNumber int, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inspection_passes
		SET status = ?, completed_at = ?, error_message = ?
		WHERE session_id = ? AND pass_number = ? AND status = ?
	`, PassStatusFailed, time.Now(), errorMessage, sessionID, passNumber, PassStatusInProgress)
	if err != nil {
		return fmt.Errorf("fail pass: %w", err)
	}
	return requireAffected(res, ErrPassState)
}

// SkipPass marks a pending or failed pass skipped. Only the middle passes
// can be skipped; health and review always run. Accepting failed lets the
// operator move past a pass that keeps failing instead of retrying it.
func (s *InspectionStore) SkipPass(ctx context.Context, sessionID int64, passNumber int, reason string) error {
	if passNumber != 2 && passNumber != 3 {
		return ErrPassNotSkippable
	}
	if reason == "" {
		return ErrSkipReason
	}

	tx, err := s.tx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin skip pass: %w", err)
	}
	defer tx.Rollback()

	session, err := s.getSessionRow(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != SessionStatusActive {
		return ErrSessionNotActive
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE inspection_passes
		SET status = ?, completed_at = ?, error_message = ?
		WHERE session_id = ? AND pass_number = ? AND status IN (?, ?)
	`, PassStatusSkipped, time.Now(), "skipped: "+reason, sessionID, passNumber, PassStatusPending, PassStatusFailed)
	if err != nil {
		return fmt.Errorf("skip pass: %w", err)
	}
	if err := requireAffected(res, ErrPassState); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit skip pass: %w", err)
	}
	return nil
}

// CompleteSession closes an active session once every pass is completed or
// skipped.
func (s *InspectionStore) CompleteSession(ctx context.Context, sessionID int64) error {
	tx, err := s.tx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete session: %w", err)
	}
	defer tx.Rollback()

	session, err := s.getSessionRow(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != SessionStatusActive {
		return ErrSessionNotActive
	}

	var unfinished int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM inspection_passes
		WHERE session_id = ? AND status NOT IN (?, ?)
	`, sessionID, PassStatusCompleted, PassStatusSkipped).Scan(&unfinished)
	if err != nil {
		return fmt.Errorf("check passes done: %w", err)
	}
	if unfinished > 0 {
		return ErrSessionNotDone
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE inspection_sessions SET status = ?, completed_at = ? WHERE session_id = ?
	`, SessionStatusCompleted, time.Now(), sessionID); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete session: %w", err)
	}
	return nil
}

// CancelSession cancels an active session; in-flight passes are marked failed
// by the caller once the worker exits.
func (s *InspectionStore) CancelSession(ctx context.Context, sessionID int64) error {
	return s.closeSession(ctx, sessionID, SessionStatusCancelled)
}

func (s *InspectionStore) FailSession(ctx context.Context, sessionID int64) error {
	return s.closeSession(ctx, sessionID, SessionStatusFailed)
}

func (s *InspectionStore) closeSession(ctx context.Context, sessionID int64, status SessionStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inspection_sessions
		SET status = ?, completed_at = ?
		WHERE session_id = ? AND status = ?
	`, status, time.Now(), sessionID, SessionStatusActive)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish missing from already-terminal.
		if _, err := s.getSessionRow(ctx, s.db, sessionID); err != nil {
			return err
		}
		return ErrSessionNotActive
	}
	return nil
}

// UpsertDecision records an operator decision; re-submitting the same key
// within a session updates it in place.
func (s *InspectionStore) UpsertDecision(ctx context.Context, d *Decision) error {
	if d.DecidedBy == "" {
		d.DecidedBy = "operator"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inspection_decisions (
			session_id, decision_type, decision_key, decision_value,
			description, decided_by, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, decision_key) DO UPDATE SET
			decision_type = excluded.decision_type,
			decision_value = excluded.decision_value,
			description = excluded.description,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at
	`, d.SessionID, d.DecisionType, d.DecisionKey, d.DecisionValue,
		nullIfEmpty(d.Description), d.DecidedBy, time.Now())
	if err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}
	return nil
}

func (s *InspectionStore) ListDecisions(ctx context.Context, sessionID int64) ([]*Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, session_id, decision_type, decision_key,
		       decision_value, description, decided_by, decided_at
		FROM inspection_decisions
		WHERE session_id = ?
		ORDER BY decided_at, decision_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		var description sql.NullString
		if err := rows.Scan(
			&d.ID, &d.SessionID, &d.DecisionType, &d.DecisionKey,
			&d.DecisionValue, &description, &d.DecidedBy, &d.DecidedAt,
		); err != nil {
			return nil, err
		}
		d.Description = description.String
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

func (s *InspectionStore) DeleteDecision(ctx context.Context, sessionID int64, decisionKey string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM inspection_decisions WHERE session_id = ? AND decision_key = ?",
		sessionID, decisionKey,
	)
	if err != nil {
		return fmt.Errorf("delete decision: %w", err)
	}
	return requireAffected(res, ErrDecisionNotFound)
}

func (s *InspectionStore) getSessionRow(ctx context.Context, q dbinterface.Querier, id int64) (*InspectionSession, error) {
	row := q.QueryRowContext(ctx, `
		SELECT session_id, drive_id, mount_point, started_at, completed_at, status, current_pass
		FROM inspection_sessions
		WHERE session_id = ?
	`, id)

	session, err := scanSessionRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

func scanSessionRow(scan func(dest ...any) error) (*InspectionSession, error) {
	var s InspectionSession
	var completedAt sql.NullTime

	err := scan(&s.ID, &s.DriveID, &s.MountPoint, &s.StartedAt, &completedAt, &s.Status, &s.CurrentPass)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return &s, nil
}

func scanPassRow(scan func(dest ...any) error) (*InspectionPass, error) {
	var p InspectionPass
	var startedAt, completedAt sql.NullTime
	var report, errMsg sql.NullString

	err := scan(&p.ID, &p.SessionID, &p.PassNumber, &p.PassName, &p.Status,
		&startedAt, &completedAt, &report, &errMsg)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		p.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	p.ReportJSON = report.String
	p.ErrorMessage = errMsg.String
	return &p, nil
}
