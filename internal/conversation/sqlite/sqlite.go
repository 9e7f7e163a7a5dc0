// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

// Package sqlite is a durable conversation.Store backed by SQLite. Import
// it for its side effect of registering the "sqlite" backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/techdesk-dev/techdesk/internal/conversation"
	"github.com/techdesk-dev/techdesk/internal/policy"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// Backend is the registered backend name.
const Backend = "sqlite"

func init() {
	conversation.RegisterBackend(Backend, func(cfg conversation.Config) (conversation.Store, error) {
		return Open(cfg.Path)
	})
}

// Compile-time interface check.
var _ conversation.Store = (*Store)(nil)

// Store implements conversation.Store on a single SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, tderr.New(tderr.CodeConversationStoreFailure, "sqlite conversation store needs a path")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "opening sqlite db %s", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "pinging sqlite db %s", path)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "migrating sqlite db %s", path)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS conversation_state (
	thread_id             TEXT PRIMARY KEY,
	awaiting_confirmation INTEGER NOT NULL DEFAULT 0,
	last_denied_request   TEXT NOT NULL DEFAULT '',
	last_policy_decision  TEXT NOT NULL DEFAULT '',
	updated_at            TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, threadID string) (conversation.State, error) {
	st, err := s.Lookup(ctx, threadID)
	if err == nil || !tderr.IsNotFound(err) {
		return st, err
	}

	const q = `INSERT INTO conversation_state (thread_id, updated_at) VALUES (?, ?)
ON CONFLICT(thread_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, threadID, now()); err != nil {
		return conversation.State{}, tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "creating state for thread %s", threadID)
	}
	return s.Lookup(ctx, threadID)
}

func (s *Store) Lookup(ctx context.Context, threadID string) (conversation.State, error) {
	const q = `SELECT awaiting_confirmation, last_denied_request, last_policy_decision
FROM conversation_state WHERE thread_id = ?`

	var (
		st       conversation.State
		awaiting int
		decision string
	)
	err := s.db.QueryRowContext(ctx, q, threadID).Scan(&awaiting, &st.LastDeniedRequest, &decision)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.State{}, tderr.New(tderr.CodeConversationNotFound, "no state for thread", tderr.FieldThreadID(threadID))
	}
	if err != nil {
		return conversation.State{}, tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "reading state for thread %s", threadID)
	}

	st.AwaitingConfirmation = awaiting != 0
	if decision != "" {
		var v policy.Verdict
		if err := json.Unmarshal([]byte(decision), &v); err != nil {
			return conversation.State{}, tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "decoding stored verdict for thread %s", threadID)
		}
		st.LastPolicyDecision = &v
	}
	return st, nil
}

func (s *Store) Put(ctx context.Context, threadID string, state conversation.State) error {
	decision, err := encodeVerdict(state.LastPolicyDecision)
	if err != nil {
		return err
	}

	const q = `INSERT INTO conversation_state (thread_id, awaiting_confirmation, last_denied_request, last_policy_decision, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
	awaiting_confirmation = excluded.awaiting_confirmation,
	last_denied_request   = excluded.last_denied_request,
	last_policy_decision  = excluded.last_policy_decision,
	updated_at            = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, threadID, boolInt(state.AwaitingConfirmation), state.LastDeniedRequest, decision, now()); err != nil {
		return tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "writing state for thread %s", threadID)
	}
	return nil
}

func (s *Store) ClearConfirmation(ctx context.Context, threadID string) error {
	const q = `INSERT INTO conversation_state (thread_id, updated_at) VALUES (?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
	awaiting_confirmation = 0,
	updated_at            = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, threadID, now()); err != nil {
		return tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "clearing confirmation for thread %s", threadID)
	}
	return nil
}

func (s *Store) ArmConfirmation(ctx context.Context, threadID, request string, verdict policy.Verdict) error {
	return s.Put(ctx, threadID, conversation.State{
		AwaitingConfirmation: true,
		LastDeniedRequest:    request,
		LastPolicyDecision:   &verdict,
	})
}

func encodeVerdict(v *policy.Verdict) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", tderr.Wrapf(err, tderr.CodeConversationStoreFailure, "encoding verdict")
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
