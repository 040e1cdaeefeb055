package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NullWinters/GalChat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}

	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT now(),
		message_count BIGINT DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		seq BIGINT NOT NULL,
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		ts BIGINT NOT NULL,
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

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRoom creates a new room record.
func (s *PostgresStore) CreateRoom(ctx context.Context, id, name string) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, name)
		VALUES ($1, $2)
		RETURNING id, name, created_at, message_count
	`, id, name).Scan(&room.ID, &room.Name, &room.CreatedAt, &room.MessageCount)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at, message_count
		FROM rooms WHERE id = $1
	`, id).Scan(&room.ID, &room.Name, &room.CreatedAt, &room.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// DeleteRoom removes a room along with its messages and participants.
func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE room_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE room_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AppendMessage persists a message and bumps the room's message count.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, room_id, seq, author, body, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.RoomID, msg.Seq, string(msg.Author), msg.Body, msg.Timestamp)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE rooms SET message_count = message_count + 1 WHERE id = $1
	`, msg.RoomID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ReadMessages returns messages with seq > sinceSeq, oldest-first.
func (s *PostgresStore) ReadMessages(ctx context.Context, roomID string, sinceSeq int64, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, seq, author, body, ts
		FROM messages
		WHERE room_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, roomID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPgxMessages(rows)
}

// ReadMessagesBefore returns the latest messages at or before the cutoff,
// oldest-first.
func (s *PostgresStore) ReadMessagesBefore(ctx context.Context, roomID string, cutoff time.Time, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, seq, author, body, ts
		FROM messages
		WHERE room_id = $1 AND ts <= $2
		ORDER BY seq DESC
		LIMIT $3
	`, roomID, cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanPgxMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// MaxSeq returns the highest sequence number recorded for a room.
func (s *PostgresStore) MaxSeq(ctx context.Context, roomID string) (int64, error) {
	var seq sql.NullInt64
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(seq) FROM messages WHERE room_id = $1
	`, roomID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// UpsertParticipant inserts or updates a participant record.
func (s *PostgresStore) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (room_id, key, origin, nickname, avatar)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id, key) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			avatar = EXCLUDED.avatar
	`, p.RoomID, string(p.Key), p.Origin, p.Nickname, p.Avatar)
	return err
}

// GetParticipant retrieves one participant record.
func (s *PostgresStore) GetParticipant(ctx context.Context, roomID string, key models.ParticipantKey) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, key, origin, nickname, avatar
		FROM participants WHERE room_id = $1 AND key = $2
	`, roomID, string(key)).Scan(&p.RoomID, &p.Key, &p.Origin, &p.Nickname, &p.Avatar)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListParticipants returns all participants of a room.
func (s *PostgresStore) ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_id, key, origin, nickname, avatar
		FROM participants WHERE room_id = $1
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
func (s *PostgresStore) RemoveParticipant(ctx context.Context, roomID string, key models.ParticipantKey) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM participants WHERE room_id = $1 AND key = $2
	`, roomID, string(key))
	return err
}

// CountParticipants returns the number of participants in a room.
func (s *PostgresStore) CountParticipants(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM participants WHERE room_id = $1
	`, roomID).Scan(&count)
	return count, err
}

func scanPgxMessages(rows pgx.Rows) ([]models.Message, error) {
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
