package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PPChat/logger"
	"PPChat/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PgConfig struct {
	DSN      string
	MaxConns int32
	Schema   string
}

// pgxPool is the part of *pgxpool.Pool the store uses.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PgStore implements Store on a pgx connection pool.
type PgStore struct {
	pool pgxPool
}

func NewPgStore(ctx context.Context, c PgConfig) (*PgStore, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse postgres dsn")
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.Schema != "" {
		pc.ConnConfig.RuntimeParams["search_path"] = c.Schema
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect postgres")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Close() { s.pool.Close() }

func (s *PgStore) ChatIDByGUID(ctx context.Context, guid string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM chat WHERE guid = $1`, guid).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "select chat id", "chat_guid", guid)
	}
	return id, nil
}

func (s *PgStore) MessageByGUID(ctx context.Context, guid string) (*Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx, `
		SELECT id, guid::text, chat_id, user_id, content, created_at, is_deleted
		FROM message WHERE guid = $1 AND is_deleted = false`, guid).
		Scan(&m.ID, &m.GUID, &m.ChatID, &m.UserID, &m.Content, &m.CreatedAt, &m.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "select message", "message_guid", guid)
	}
	return &m, nil
}

func (s *PgStore) MarkLastRead(ctx context.Context, userID, chatID, messageID int64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, errs.WrapMsg(err, "begin read status tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// read_status has no unique key on (user_id, chat_id); the chat row lock
	// keeps two sockets from both creating the row
	if _, err = tx.Exec(ctx, `SELECT 1 FROM chat WHERE id = $1 FOR UPDATE`, chatID); err != nil {
		return false, errs.WrapMsg(err, "lock chat", "chat_id", chatID)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO read_status (user_id, chat_id, last_read_message_id)
		SELECT $1, $2, 0
		WHERE NOT EXISTS (SELECT 1 FROM read_status WHERE user_id = $1 AND chat_id = $2)`, userID, chatID)
	if err != nil {
		return false, errs.WrapMsg(err, "create read status", "user_id", userID, "chat_id", chatID)
	}
	var current int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(last_read_message_id, 0) FROM read_status
		WHERE user_id = $1 AND chat_id = $2 FOR UPDATE`, userID, chatID).Scan(&current)
	if err != nil {
		return false, errs.WrapMsg(err, "select read status", "user_id", userID, "chat_id", chatID)
	}
	if messageID <= current {
		logger.Debug("read watermark not advanced",
			zap.Int64("user_id", userID), zap.Int64("chat_id", chatID),
			zap.Int64("current", current), zap.Int64("requested", messageID))
		return false, nil
	}
	if _, err = tx.Exec(ctx, `
		UPDATE read_status SET last_read_message_id = $3
		WHERE user_id = $1 AND chat_id = $2`, userID, chatID, messageID); err != nil {
		return false, errs.WrapMsg(err, "update read status", "user_id", userID, "chat_id", chatID)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, errs.WrapMsg(err, "commit read status")
	}
	return true, nil
}

func (s *PgStore) ActiveDirectChats(ctx context.Context, userID int64) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.guid::text, c.id FROM chat c
		JOIN chat_participant p ON p.chat_id = c.id
		WHERE p.user_id = $1 AND c.chat_type = 'DIRECT' AND c.is_deleted = false`, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "select direct chats", "user_id", userID)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var guid string
		var id int64
		if err := rows.Scan(&guid, &id); err != nil {
			return nil, errs.WrapMsg(err, "scan direct chat")
		}
		out[guid] = id
	}
	return out, rows.Err()
}

// CreateMessage inserts the message and bumps chat.updated_at in one transaction.
// On any failure the transaction is rolled back and the wrapped error returned.
func (s *PgStore) CreateMessage(ctx context.Context, chatID, senderID int64, content string) (msg *Message, chat *Chat, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "begin message tx")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				logger.Error("rollback message tx", zap.Error(rbErr))
			}
		}
	}()

	m := Message{ChatID: chatID, UserID: senderID, Content: content}
	err = tx.QueryRow(ctx, `
		INSERT INTO message (guid, message_type, content, user_id, chat_id, created_at, updated_at, is_deleted)
		VALUES (gen_random_uuid(), 'TEXT', $1, $2, $3, now(), now(), false)
		RETURNING id, guid::text, created_at`, content, senderID, chatID).
		Scan(&m.ID, &m.GUID, &m.CreatedAt)
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "insert message", "chat_id", chatID, "user_id", senderID)
	}

	c := Chat{ID: chatID}
	err = tx.QueryRow(ctx, `
		UPDATE chat SET updated_at = now() WHERE id = $1
		RETURNING guid::text, created_at, updated_at`, chatID).
		Scan(&c.GUID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "touch chat", "chat_id", chatID)
	}

	rows, err := tx.Query(ctx, `
		SELECT u.id, u.guid::text, u.username, u.first_name, u.last_name, COALESCE(u.user_image, '')
		FROM "user" u JOIN chat_participant p ON p.user_id = u.id
		WHERE p.chat_id = $1`, chatID)
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "select participants", "chat_id", chatID)
	}
	c.Users, err = pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "scan participants", "chat_id", chatID)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, errs.WrapMsg(err, "commit message tx")
	}
	return &m, &c, nil
}

func scanUser(row pgx.CollectableRow) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.GUID, &u.Username, &u.FirstName, &u.LastName, &u.UserImage)
	return u, err
}

func (s *PgStore) UserByLogin(ctx context.Context, login string) (*User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, guid::text, username, first_name, last_name, COALESCE(user_image, '')
		FROM "user" WHERE (email = $1 OR username = $1) AND is_deleted = false`, login)
	if err != nil {
		return nil, errs.WrapMsg(err, "select user", "login", login)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "scan user", "login", login)
	}
	return &u, nil
}

// ChatMessages returns the newest limit messages of the chat, oldest first,
// with is_read computed for viewerID.
func (s *PgStore) ChatMessages(ctx context.Context, chatID, viewerID int64, limit int) ([]MessageView, error) {
	if limit <= 0 {
		limit = 50
	}
	var w Watermarks
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, COALESCE(last_read_message_id, 0) FROM read_status WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, errs.WrapMsg(err, "select read statuses", "chat_id", chatID)
	}
	for rows.Next() {
		var uid, last int64
		if err := rows.Scan(&uid, &last); err != nil {
			rows.Close()
			return nil, errs.WrapMsg(err, "scan read status")
		}
		if uid == viewerID {
			w.Mine = last
		} else {
			w.Other = last
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.WrapMsg(err, "iterate read statuses")
	}

	rows, err = s.pool.Query(ctx, fmt.Sprintf(`
		SELECT * FROM (
			SELECT m.id, m.guid::text, m.chat_id, m.user_id, m.content, m.created_at, m.is_deleted, u.guid::text
			FROM message m JOIN "user" u ON u.id = m.user_id
			WHERE m.chat_id = $1 AND m.is_deleted = false
			ORDER BY m.id DESC LIMIT %d
		) t ORDER BY 1 ASC`, limit), chatID)
	if err != nil {
		return nil, errs.WrapMsg(err, "select messages", "chat_id", chatID)
	}
	views, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MessageView, error) {
		var v MessageView
		err := row.Scan(&v.ID, &v.GUID, &v.ChatID, &v.UserID, &v.Content, &v.CreatedAt, &v.IsDeleted, &v.UserGUID)
		return v, err
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "scan messages", "chat_id", chatID)
	}
	ApplyReadState(viewerID, w, views)
	return views, nil
}
