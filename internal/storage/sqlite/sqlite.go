// Package sqlite is the storage facade's SQLite backing store, adapted
// from the same migrate-then-exec style as a single-account roster client
// but generalized to the content-addressed, account-agnostic schema the
// core storage facade expects.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/waddlechat/waddle/internal/storage"
)

// DB is a storage.Store backed by a single SQLite file.
type DB struct {
	db *sql.DB
}

// New opens (creating if necessary) the database at dataDir/waddle.db and
// runs migrations.
func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "waddle.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return store, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			from_jid TEXT NOT NULL,
			to_jid TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			message_type TEXT NOT NULL,
			thread TEXT,
			read INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(from_jid, to_jid)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,

		`CREATE TABLE IF NOT EXISTS roster (
			jid TEXT PRIMARY KEY,
			name TEXT,
			subscription TEXT NOT NULL,
			groups_json TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS muc_rooms (
			room_jid TEXT PRIMARY KEY,
			nick TEXT,
			joined INTEGER DEFAULT 0,
			subject TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS offline_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stanza_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			status TEXT NOT NULL,
			message_id TEXT,
			enqueued_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_queue_status ON offline_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_queue_message_id ON offline_queue(message_id)`,

		`CREATE TABLE IF NOT EXISTS mam_sync_state (
			jid TEXT PRIMARY KEY,
			last_stanza_id TEXT,
			last_sync_at INTEGER
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// --- messages ---

func (d *DB) SaveMessage(m storage.Message) error {
	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO messages (id, from_jid, to_jid, body, timestamp, message_type, thread, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.From, m.To, m.Body, m.Timestamp.UTC().Unix(), m.MessageType, m.Thread, m.Read)
	return err
}

func (d *DB) MessageExists(id string) (bool, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(1) FROM messages WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// GetMessages returns up to limit messages for jid in chronological order,
// optionally only those preceding beforeID's timestamp.
func (d *DB) GetMessages(jid string, limit int, beforeID string) ([]storage.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if beforeID == "" {
		rows, err = d.db.Query(`
			SELECT id, from_jid, to_jid, body, timestamp, message_type, thread, read
			FROM messages
			WHERE from_jid = ? OR to_jid = ?
			ORDER BY timestamp DESC
			LIMIT ?
		`, jid, jid, limit)
	} else {
		rows, err = d.db.Query(`
			SELECT id, from_jid, to_jid, body, timestamp, message_type, thread, read
			FROM messages
			WHERE (from_jid = ? OR to_jid = ?)
			  AND timestamp < (SELECT timestamp FROM messages WHERE id = ?)
			ORDER BY timestamp DESC
			LIMIT ?
		`, jid, jid, beforeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		var m storage.Message
		var ts int64
		var thread sql.NullString
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Body, &ts, &m.MessageType, &thread, &m.Read); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		m.Thread = thread.String
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// --- roster ---

func (d *DB) ReplaceRoster(items []storage.RosterItem) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM roster`); err != nil {
		return err
	}
	for _, item := range items {
		if err := upsertRosterItemTx(tx, item); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) UpsertRosterItem(item storage.RosterItem) error {
	return upsertRosterItemTx(d.db, item)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func upsertRosterItemTx(e execer, item storage.RosterItem) error {
	groupsJSON, err := json.Marshal(item.Groups)
	if err != nil {
		return err
	}
	_, err = e.Exec(`
		INSERT INTO roster (jid, name, subscription, groups_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET name = excluded.name, subscription = excluded.subscription, groups_json = excluded.groups_json
	`, item.JID, item.Name, item.Subscription, string(groupsJSON))
	return err
}

func (d *DB) RemoveRosterItem(jid string) error {
	_, err := d.db.Exec(`DELETE FROM roster WHERE jid = ?`, jid)
	return err
}

func (d *DB) GetRoster() ([]storage.RosterItem, error) {
	rows, err := d.db.Query(`SELECT jid, name, subscription, groups_json FROM roster`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.RosterItem
	for rows.Next() {
		var item storage.RosterItem
		var name sql.NullString
		var groupsJSON string
		if err := rows.Scan(&item.JID, &name, &item.Subscription, &groupsJSON); err != nil {
			return nil, err
		}
		item.Name = name.String
		if groupsJSON != "" {
			if err := json.Unmarshal([]byte(groupsJSON), &item.Groups); err != nil {
				return nil, err
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// --- MUC ---

func (d *DB) SaveMucRoom(room storage.MucRoom) error {
	_, err := d.db.Exec(`
		INSERT INTO muc_rooms (room_jid, nick, joined, subject)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_jid) DO UPDATE SET nick = excluded.nick, joined = excluded.joined, subject = excluded.subject
	`, room.RoomJID, room.Nick, room.Joined, room.Subject)
	return err
}

func (d *DB) GetMucRoom(roomJID string) (*storage.MucRoom, error) {
	var room storage.MucRoom
	var subject sql.NullString
	err := d.db.QueryRow(`SELECT room_jid, nick, joined, subject FROM muc_rooms WHERE room_jid = ?`, roomJID).
		Scan(&room.RoomJID, &room.Nick, &room.Joined, &subject)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	room.Subject = subject.String
	return &room, nil
}

func (d *DB) DeleteMucRoom(roomJID string) error {
	_, err := d.db.Exec(`DELETE FROM muc_rooms WHERE room_jid = ?`, roomJID)
	return err
}

// --- offline queue ---

func (d *DB) EnqueueCommand(stanzaType storage.StanzaType, payload []byte, messageID string) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO offline_queue (stanza_type, payload, status, message_id, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(stanzaType), payload, string(storage.QueuePending), nullableString(messageID), time.Now().UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (d *DB) SetQueueStatus(id int64, status storage.QueueStatus) error {
	_, err := d.db.Exec(`UPDATE offline_queue SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (d *DB) SetQueueStatusByMessageID(messageID string, status storage.QueueStatus) error {
	_, err := d.db.Exec(`UPDATE offline_queue SET status = ? WHERE message_id = ?`, string(status), messageID)
	return err
}

func (d *DB) PendingQueueEntries() ([]storage.QueueEntry, error) {
	return d.queueEntriesWithStatus(storage.QueuePending)
}

func (d *DB) SentQueueEntries() ([]storage.QueueEntry, error) {
	return d.queueEntriesWithStatus(storage.QueueSent)
}

func (d *DB) queueEntriesWithStatus(status storage.QueueStatus) ([]storage.QueueEntry, error) {
	rows, err := d.db.Query(`
		SELECT id, stanza_type, payload, status, message_id, enqueued_at
		FROM offline_queue
		WHERE status = ?
		ORDER BY id ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.QueueEntry
	for rows.Next() {
		var e storage.QueueEntry
		var stanzaType, statusStr string
		var messageID sql.NullString
		var enqueuedAt int64
		if err := rows.Scan(&e.ID, &stanzaType, &e.Payload, &statusStr, &messageID, &enqueuedAt); err != nil {
			return nil, err
		}
		e.StanzaType = storage.StanzaType(stanzaType)
		e.Status = storage.QueueStatus(statusStr)
		e.MessageID = messageID.String
		e.EnqueuedAt = time.Unix(enqueuedAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- MAM sync state ---

func (d *DB) GetMamSyncState(jid string) (*storage.MamSyncState, error) {
	var state storage.MamSyncState
	var lastStanzaID sql.NullString
	var lastSyncAt sql.NullInt64
	err := d.db.QueryRow(`SELECT jid, last_stanza_id, last_sync_at FROM mam_sync_state WHERE jid = ?`, jid).
		Scan(&state.JID, &lastStanzaID, &lastSyncAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state.LastStanzaID = lastStanzaID.String
	if lastSyncAt.Valid {
		state.LastSyncAt = time.Unix(lastSyncAt.Int64, 0).UTC()
	}
	return &state, nil
}

func (d *DB) SetMamSyncState(state storage.MamSyncState) error {
	_, err := d.db.Exec(`
		INSERT INTO mam_sync_state (jid, last_stanza_id, last_sync_at)
		VALUES (?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET last_stanza_id = excluded.last_stanza_id, last_sync_at = excluded.last_sync_at
	`, state.JID, state.LastStanzaID, state.LastSyncAt.UTC().Unix())
	return err
}

var _ storage.Store = (*DB)(nil)
