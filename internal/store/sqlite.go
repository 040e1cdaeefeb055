package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/NullWinters/GalChat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/galchat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/galchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}

	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		ts INTEGER NOT NULL,
		PRIMARY KEY (room_id, seq)
	);

	CREATE TABLE IF NOT EXISTS participants (
		room_id TEXT NOT NULL,
		key TEXT NOT NULL,
		origin TEXT NOT NULL,
		nickname TEXT DEFAULT '',
		avatar TEXT DEFAULT '',
		PRIMARY KEY (room_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, ts);
	CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(room_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRoom creates a new room record.
func (s *SQLiteStore) CreateRoom(ctx context.Context, id, name string) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rooms (id, name)
		VALUES (?, ?)
		RETURNING id, name, created_at, message_count
	`, id, name).Scan(&room.ID, &room.Name, &room.CreatedAt, &room.MessageCount)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, message_count
		FROM rooms WHERE id = ?
	`, id).Scan(&room.ID, &room.Name, &room.CreatedAt, &room.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// DeleteRoom removes a room along with its messages and participants.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE room_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendMessage persists a message and bumps the room's message count.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, seq, author, body, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.Seq, string(msg.Author), msg.Body, msg.Timestamp)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rooms SET message_count = message_count + 1 WHERE id = ?
	`, msg.RoomID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ReadMessages returns messages with seq > sinceSeq, oldest-first.
func (s *SQLiteStore) ReadMessages(ctx context.Context, roomID string, sinceSeq int64, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, seq, author, body, ts
		FROM messages
		WHERE room_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, roomID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ReadMessagesBefore returns the latest messages at or before the cutoff,
// oldest-first.
func (s *SQLiteStore) ReadMessagesBefore(ctx context.Context, roomID string, cutoff time.Time, limit int) ([]models.Message, error) {
	// Select the newest matching rows, then flip back to log order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, seq, author, body, ts
		FROM messages
		WHERE room_id = ? AND ts <= ?
		ORDER BY seq DESC
		LIMIT ?
	`, roomID, cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// MaxSeq returns the highest sequence number recorded for a room.
func (s *SQLiteStore) MaxSeq(ctx context.Context, roomID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM messages WHERE room_id = ?
	`, roomID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// UpsertParticipant inserts or updates a participant record.
func (s *SQLiteStore) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (room_id, key, origin, nickname, avatar)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id, key) DO UPDATE SET
			nickname = excluded.nickname,
			avatar = excluded.avatar
	`, p.RoomID, string(p.Key), p.Origin, p.Nickname, p.Avatar)
	return err
}

// GetParticipant retrieves one participant record.
func (s *SQLiteStore) GetParticipant(ctx context.Context, roomID string, key models.ParticipantKey) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, key, origin, nickname, avatar
		FROM participants WHERE room_id = ? AND key = ?
	`, roomID, string(key)).Scan(&p.RoomID, &p.Key, &p.Origin, &p.Nickname, &p.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListParticipants returns all participants of a room.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, key, origin, nickname, avatar
		FROM participants WHERE room_id = ?
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.RoomID, &p.Key, &p.Origin, &p.Nickname, &p.Avatar); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RemoveParticipant deletes a participant record.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, roomID string, key models.ParticipantKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM participants WHERE room_id = ? AND key = ?
	`, roomID, string(key))
	return err
}

// CountParticipants returns the number of participants in a room.
func (s *SQLiteStore) CountParticipants(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants WHERE room_id = ?
	`, roomID).Scan(&count)
	return count, err
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var author string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Seq, &author, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Author = models.ParticipantKey(author)
		out = append(out, m)
	}
	return out, rows.Err()
}

func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
