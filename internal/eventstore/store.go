// Package eventstore journals invocations and outgoing messages to SQLite.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/autoclient/internal/automation"
)

const DefaultMaxBodyBytes = 1 << 20 // 1 MiB

// Kind is the invocation class stored in the journal.
const (
	KindCommand = "command"
	KindEvent   = "event"
)

// Invocation is one row of invocation_log.
type Invocation struct {
	ID            string
	InvocationID  string
	CorrelationID string
	WorkspaceID   string
	Kind          string
	Operation     string
	Status        string // success | failure
	Code          int
	Message       string
	WorkerID      *int
	StartedAt     time.Time
	CompletedAt   time.Time
}

// MessageRecord is one row of message_log.
type MessageRecord struct {
	ID            string
	InvocationID  string
	CorrelationID string
	WorkspaceID   string
	Kind          automation.MessageKind
	Destinations  json.RawMessage
	Body          json.RawMessage
	Digest        string
	CreatedAt     time.Time
}

type Store struct {
	db           *sql.DB
	maxBodyBytes int
	now          func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
	}
}

// RecordInvocation appends the outcome of one invocation. For events the
// first nonzero result decides the code; messages are joined.
func (s *Store) RecordInvocation(ctx context.Context, ac *automation.AutomationContext, kind string, results []automation.HandlerResult, workerID *int) (*Invocation, error) {
	if ac == nil || ac.InvocationID == "" {
		return nil, fmt.Errorf("invocation context is empty")
	}

	inv := &Invocation{
		ID:            uuid.NewString(),
		InvocationID:  ac.InvocationID,
		CorrelationID: ac.CorrelationID,
		WorkspaceID:   ac.WorkspaceID,
		Kind:          kind,
		Operation:     ac.Operation,
		Status:        "success",
		WorkerID:      workerID,
		StartedAt:     ac.StartedAt().UTC(),
		CompletedAt:   s.now().UTC(),
	}
	var msgs []string
	for _, r := range results {
		if r.Code != 0 && inv.Code == 0 {
			inv.Code = r.Code
			inv.Status = "failure"
		}
		if r.Message != "" {
			msgs = append(msgs, r.Message)
		}
	}
	inv.Message = strings.Join(msgs, "; ")

	_, err := s.db.ExecContext(ctx, `
INSERT INTO invocation_log(
  id, invocation_id, correlation_id, workspace_id, kind, operation, status, code, message,
  worker_id, started_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, inv.ID, inv.InvocationID, inv.CorrelationID, inv.WorkspaceID, inv.Kind, inv.Operation, inv.Status,
		inv.Code, inv.Message, workerID, inv.StartedAt.Format(time.RFC3339Nano), inv.CompletedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert invocation_log: %w", err)
	}
	return inv, nil
}

// RecordMessage appends an outgoing message. The BLAKE3 digest covers the
// encoded body; bodies over the size cap are stored as NULL with the digest
// kept.
func (s *Store) RecordMessage(ctx context.Context, ac *automation.AutomationContext, msg *automation.OutgoingMessage) (*MessageRecord, error) {
	if ac == nil {
		return nil, fmt.Errorf("invocation context is empty")
	}
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	body, err := json.Marshal(msg.Message)
	if err != nil {
		return nil, fmt.Errorf("marshal message body: %w", err)
	}
	dests, err := json.Marshal(msg.Destinations)
	if err != nil {
		return nil, fmt.Errorf("marshal destinations: %w", err)
	}
	sum := blake3.Sum256(body)

	rec := &MessageRecord{
		ID:            uuid.NewString(),
		InvocationID:  ac.InvocationID,
		CorrelationID: ac.CorrelationID,
		WorkspaceID:   ac.WorkspaceID,
		Kind:          msg.Kind,
		Destinations:  dests,
		Body:          body,
		Digest:        hex.EncodeToString(sum[:]),
		CreatedAt:     s.now().UTC(),
	}

	var storedBody any = string(body)
	if len(body) > s.maxBodyBytes {
		storedBody = nil
		rec.Body = nil
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO message_log(id, invocation_id, correlation_id, workspace_id, kind, destinations, body, digest, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.InvocationID, rec.CorrelationID, rec.WorkspaceID, string(rec.Kind), string(dests), storedBody,
		rec.Digest, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert message_log: %w", err)
	}
	return rec, nil
}

// ListInvocations returns the most recent invocations, newest first. A
// non-empty correlationID restricts the result to that correlation.
func (s *Store) ListInvocations(ctx context.Context, correlationID string, limit int) ([]Invocation, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
SELECT id, invocation_id, correlation_id, workspace_id, kind, operation, status, code, message,
  worker_id, started_at, completed_at
FROM invocation_log`
	args := []any{}
	if correlationID != "" {
		query += ` WHERE correlation_id = ?`
		args = append(args, correlationID)
	}
	query += ` ORDER BY completed_at DESC, rowid DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query invocation_log: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var (
			inv                  Invocation
			msg                  sql.NullString
			worker               sql.NullInt64
			startedS, completedS string
		)
		if err := rows.Scan(&inv.ID, &inv.InvocationID, &inv.CorrelationID, &inv.WorkspaceID, &inv.Kind,
			&inv.Operation, &inv.Status, &inv.Code, &msg, &worker, &startedS, &completedS); err != nil {
			return nil, fmt.Errorf("scan invocation_log: %w", err)
		}
		inv.Message = msg.String
		if worker.Valid {
			w := int(worker.Int64)
			inv.WorkerID = &w
		}
		if inv.StartedAt, err = time.Parse(time.RFC3339Nano, startedS); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if inv.CompletedAt, err = time.Parse(time.RFC3339Nano, completedS); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocation_log: %w", err)
	}
	return out, nil
}

// ErrMessageNotFound is returned by GetMessage for an unknown id.
var ErrMessageNotFound = errors.New("message not found")

// GetMessage returns one journalled message.
func (s *Store) GetMessage(ctx context.Context, id string) (*MessageRecord, error) {
	var (
		rec      MessageRecord
		kind     string
		dests    sql.NullString
		body     sql.NullString
		createdS string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, invocation_id, correlation_id, workspace_id, kind, destinations, body, digest, created_at
FROM message_log WHERE id = ?;
`, id).Scan(&rec.ID, &rec.InvocationID, &rec.CorrelationID, &rec.WorkspaceID, &kind, &dests, &body, &rec.Digest, &createdS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read message_log: %w", err)
	}
	rec.Kind = automation.MessageKind(kind)
	if dests.Valid {
		rec.Destinations = json.RawMessage(dests.String)
	}
	if body.Valid {
		rec.Body = json.RawMessage(body.String)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdS); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &rec, nil
}
