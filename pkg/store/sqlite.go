package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SQLite is the Recorder backed by a local sqlite database.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ Recorder = &SQLite{}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	context      TEXT,
	status       TEXT NOT NULL DEFAULT 'created',
	tokens_path  TEXT NOT NULL DEFAULT '',
	auto_restart INTEGER NOT NULL DEFAULT 1,
	last_qr      TEXT,
	last_error   TEXT,
	updated_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	direction  TEXT NOT NULL,
	remote_jid TEXT NOT NULL,
	body       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	type       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, created_at);
`

// DSNForFile builds a sqlite DSN for a database file path.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite recorder: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "resolve sqlite path")
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", abs), nil
}

func NewSQLite(dsn string, log zerolog.Logger) (*SQLite, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite recorder: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite recorder")
	}
	s := &SQLite{db: db, log: log}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init recorder schema")
	}
	return s, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) UpsertSession(ctx context.Context, rec SessionRecord) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, display_name, context, status, tokens_path, auto_restart, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			display_name = excluded.display_name,
			context      = excluded.context,
			status       = excluded.status,
			tokens_path  = excluded.tokens_path,
			auto_restart = excluded.auto_restart,
			updated_at   = excluded.updated_at`,
		rec.SessionID, rec.DisplayName, rec.Context, rec.Status, rec.TokensPath,
		boolToInt(rec.AutoRestart), now())
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("upsert session failed")
	}
}

// statusExtraColumns maps accepted UpdateStatus extras to their columns.
var statusExtraColumns = map[string]string{
	ExtraLastQR:      "last_qr",
	ExtraLastError:   "last_error",
	ExtraContext:     "context",
	ExtraDisplayName: "display_name",
	ExtraAutoRestart: "auto_restart",
}

func (s *SQLite) UpdateStatus(ctx context.Context, sessionID, status string, extra map[string]any) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{status, now()}
	for key, col := range statusExtraColumns {
		v, ok := extra[key]
		if !ok {
			continue
		}
		if b, isBool := v.(bool); isBool {
			v = boolToInt(b)
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	args = append(args, sessionID)

	query := "UPDATE sessions SET " + strings.Join(sets, ", ") + " WHERE session_id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("update status failed")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Status writes can race session creation (e.g. a failed create
		// recording an error before the upsert landed); insert the row and
		// apply the update to it.
		s.UpsertSession(ctx, SessionRecord{SessionID: sessionID, Status: status})
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("update status after insert failed")
		}
	}
}

func (s *SQLite) RecordMessage(ctx context.Context, rec MessageRecord) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, direction, remote_jid, body, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.SessionID, rec.Direction, rec.Peer, rec.Body,
		marshalJSON(rec.Metadata), now())
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", rec.SessionID).Str("direction", rec.Direction).Msg("record message failed")
	}
}

func (s *SQLite) RecordEvent(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, session_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, eventType, marshalJSON(payload), now())
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Str("type", eventType).Msg("record event failed")
	}
}

func (s *SQLite) UpdateContext(ctx context.Context, sessionID, contextBlob string) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET context = ?, updated_at = ? WHERE session_id = ?",
		contextBlob, now(), sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("update context failed")
	}
}

// restorableStatuses are the last-known statuses that qualify a session for
// boot-time restoration.
var restorableStatuses = []string{"connected", "starting", "connecting", "waiting_pairing"}

func (s *SQLite) ListRestorable(ctx context.Context) ([]RestorableSession, error) {
	placeholders := strings.Repeat("?,", len(restorableStatuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(restorableStatuses))
	for _, st := range restorableStatuses {
		args = append(args, st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, display_name, COALESCE(context, ''), auto_restart
		FROM sessions
		WHERE auto_restart = 1 AND status IN (`+placeholders+`)
		ORDER BY session_id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query restorable sessions")
	}
	defer func() { _ = rows.Close() }()

	var out []RestorableSession
	for rows.Next() {
		var r RestorableSession
		var autoRestart int
		if err := rows.Scan(&r.SessionID, &r.DisplayName, &r.Context, &autoRestart); err != nil {
			return nil, errors.Wrap(err, "scan restorable session")
		}
		r.AutoRestart = autoRestart != 0
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate restorable sessions")
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
