package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symb/internal/convo"
)

const (
	SQLiteBusyMaxRetries    = 10
	SQLiteBusyBackoffStepMs = 50
	SQLiteBusyMaxBackoff    = time.Second
)

// Session is the on-disk meta record described by spec §6.5. The session
// file format itself is out of scope for this module's behavioral
// contract; only this logical record shape is.
type Session struct {
	ID             string
	WorkDir        string
	ModelName      string
	FirstUserText  string
	MessagesCount  int
	Created        time.Time
	Updated        time.Time
}

// CreateSession inserts a new session row.
func (c *Cache) CreateSession(id, workDir string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	_, err := c.db.Exec(
		"INSERT INTO sessions (id, work_dir, created, updated) VALUES (?, ?, ?, ?)",
		id, workDir, now, now,
	)
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("failed to create session")
	}
	return err
}

// AppendEvents persists a batch of Conversation Items to the session's
// event log atomically. Deltas and ToolCallStart items are skipped: they
// are never persisted (see convo.Kind.IsPersisted).
func (c *Cache) AppendEvents(sessionID string, items []convo.Item) error {
	if c == nil || len(items) == 0 {
		return nil
	}
	var err error
	for attempt := 0; attempt <= SQLiteBusyMaxRetries; attempt++ {
		err = c.appendEventsOnce(sessionID, items)
		if err == nil {
			return nil
		}
		if !IsSQLiteBusy(err) || attempt == SQLiteBusyMaxRetries {
			return err
		}
		backoff := time.Duration((attempt+1)*SQLiteBusyBackoffStepMs) * time.Millisecond
		if backoff > SQLiteBusyMaxBackoff {
			backoff = SQLiteBusyMaxBackoff
		}
		time.Sleep(backoff)
	}
	return err
}

func (c *Cache) appendEventsOnce(sessionID string, items []convo.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}

	persisted := 0
	for _, item := range items {
		if !item.Kind.IsPersisted() {
			continue
		}
		blob, err := json.Marshal(item)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO events (session_id, kind, created, payload) VALUES (?, ?, ?, ?)`,
			sessionID, item.Kind.String(), item.CreatedAt.Unix(), string(blob),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
		persisted++
	}

	if _, err := tx.Exec(
		"UPDATE sessions SET updated = ?, messages_count = messages_count + ? WHERE id = ?",
		time.Now().Unix(), persisted, sessionID,
	); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// IsSQLiteBusy reports whether err is a transient SQLITE_BUSY failure.
func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// LoadHistory returns a session's full event log in append order.
func (c *Cache) LoadHistory(sessionID string) ([]convo.Item, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := queryEvents(c.db, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []convo.Item
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var item convo.Item
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("failed to decode persisted event")
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func queryEvents(db *sql.DB, sessionID string) (*sql.Rows, error) {
	return db.Query(`SELECT payload FROM events WHERE session_id = ? ORDER BY id`, sessionID)
}

// SessionSummary holds info for listing sessions.
type SessionSummary struct {
	ID        string
	Timestamp time.Time
	Preview   string
}

// ListSessions returns sessions ordered by most recent activity.
func (c *Cache) ListSessions() ([]SessionSummary, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT id, updated FROM sessions ORDER BY updated DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var ts int64
		if err := rows.Scan(&s.ID, &ts); err != nil {
			continue
		}
		s.Timestamp = time.Unix(ts, 0)
		s.Preview, _ = c.firstUserText(s.ID)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Cache) firstUserText(sessionID string) (string, error) {
	var payload string
	err := c.db.QueryRow(
		`SELECT payload FROM events WHERE session_id = ? AND kind = 'UserMessage' ORDER BY id LIMIT 1`,
		sessionID,
	).Scan(&payload)
	if err != nil {
		return "", err
	}
	var item convo.Item
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return "", err
	}
	var text string
	for _, p := range item.UserParts {
		if p.Text != nil {
			text += p.Text.Text
		}
	}
	if len(text) > 50 {
		text = text[:50]
	}
	return text, nil
}

// LatestSessionID returns the most recently updated session's id.
func (c *Cache) LatestSessionID() (string, error) {
	if c == nil {
		return "", fmt.Errorf("no cache")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var id string
	err := c.db.QueryRow(`SELECT id FROM sessions ORDER BY updated DESC LIMIT 1`).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("no sessions found")
	}
	return id, nil
}

// SessionExists returns true if a session with the given ID exists.
func (c *Cache) SessionExists(id string) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	err := c.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
