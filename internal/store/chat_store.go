package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paydesk/finchat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User is an account that can log into the gateway. Customers own exactly
// one conversation, keyed by their user id.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         domain.Role
	CreatedAt    time.Time
}

// ChatStore persists users, conversations and messages.
type ChatStore struct {
	db *DB
}

// NewChatStore creates a chat store using the given database.
func NewChatStore(db *DB) *ChatStore {
	return &ChatStore{db: db}
}

// CreateUser inserts a user. Customers also get their conversation row.
func (s *ChatStore) CreateUser(u User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	_, err := s.db.sql.Exec(
		`INSERT INTO users (id, email, password_hash, display_name, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, string(u.Role),
		u.CreatedAt.Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	if u.Role == domain.RoleCustomer {
		if _, err := s.db.sql.Exec(
			`INSERT INTO conversations (id) VALUES (?)`, u.ID,
		); err != nil {
			return fmt.Errorf("creating conversation: %w", err)
		}
	}
	return nil
}

// UserByEmail returns the user with the given email.
func (s *ChatStore) UserByEmail(email string) (User, error) {
	return s.scanUser(s.db.sql.QueryRow(
		`SELECT id, email, password_hash, display_name, role, created_at
		 FROM users WHERE email = ?`, email,
	))
}

// UserByID returns the user with the given id.
func (s *ChatStore) UserByID(id string) (User, error) {
	return s.scanUser(s.db.sql.QueryRow(
		`SELECT id, email, password_hash, display_name, role, created_at
		 FROM users WHERE id = ?`, id,
	))
}

func (s *ChatStore) scanUser(row *sql.Row) (User, error) {
	var u User
	var role, createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = domain.Role(role)
	u.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return u, nil
}

// AppendMessage persists a message with the conversation's next sequence
// number and returns the confirmed record plus whether it was newly
// created. The caller's local id is stored and echoed back for optimistic
// reconciliation; a repeated append with the same local id is idempotent
// and returns the existing record, so the socket and HTTP legs of a send
// can race safely.
func (s *ChatStore) AppendMessage(conversationID string, sender domain.Role, body, localID string) (domain.Message, bool, error) {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if localID != "" {
		existing, err := s.messageByLocalID(tx, conversationID, localID)
		if err != nil {
			return domain.Message{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
	}

	var seq int64
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&seq); err != nil {
		return domain.Message{}, false, fmt.Errorf("assigning sequence: %w", err)
	}

	m := domain.Message{
		ID:             domain.Identity{LocalID: localID, ServerID: uuid.New().String()},
		ConversationID: conversationID,
		Body:           body,
		Sender:         sender,
		CreatedAt:      time.Now(),
		Seq:            seq,
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (id, conversation_id, sender, body, local_id, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID.ServerID, conversationID, string(sender), body, localID, seq,
		m.CreatedAt.Format(time.DateTime),
	); err != nil {
		return domain.Message{}, false, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		m.CreatedAt.Format(time.DateTime), conversationID,
	); err != nil {
		return domain.Message{}, false, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Message{}, false, fmt.Errorf("commit append: %w", err)
	}
	return m, true, nil
}

// messageByLocalID looks up an already persisted message by its sender
// correlation id.
func (s *ChatStore) messageByLocalID(tx *sql.Tx, conversationID, localID string) (*domain.Message, error) {
	var m domain.Message
	var sender, createdAt string
	var read int
	err := tx.QueryRow(
		`SELECT id, conversation_id, sender, body, local_id, seq, read, created_at
		 FROM messages WHERE conversation_id = ? AND local_id = ?`,
		conversationID, localID,
	).Scan(
		&m.ID.ServerID, &m.ConversationID, &sender, &m.Body,
		&m.ID.LocalID, &m.Seq, &read, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up local id: %w", err)
	}
	m.Sender = domain.Role(sender)
	m.Read = read != 0
	m.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return &m, nil
}

// History returns a conversation's messages ordered by sequence number.
func (s *ChatStore) History(conversationID string) ([]domain.Message, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, conversation_id, sender, body, local_id, seq, read, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var sender, createdAt string
		var read int
		if err := rows.Scan(
			&m.ID.ServerID, &m.ConversationID, &sender, &m.Body,
			&m.ID.LocalID, &m.Seq, &read, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Sender = domain.Role(sender)
		m.Read = read != 0
		m.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead marks all unread messages authored by the reader's peer as read
// and returns their server ids.
func (s *ChatStore) MarkRead(conversationID string, reader domain.Role) ([]string, error) {
	peer := reader.Peer()

	tx, err := s.db.sql.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin mark read: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id FROM messages WHERE conversation_id = ? AND sender = ? AND read = 0`,
		conversationID, string(peer),
	)
	if err != nil {
		return nil, fmt.Errorf("finding unread: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning unread id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(
		`UPDATE messages SET read = 1 WHERE conversation_id = ? AND sender = ? AND read = 0`,
		conversationID, string(peer),
	); err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mark read: %w", err)
	}
	return ids, nil
}

// Roster returns all conversations with their preview and unread count,
// most recently active first. Unread counts customer-authored messages not
// yet read, matching the admin's view.
func (s *ChatStore) Roster() ([]domain.RosterEntry, error) {
	rows, err := s.db.sql.Query(`
		SELECT c.id, u.display_name, u.email, c.updated_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.sender = 'customer' AND m.read = 0)
		FROM conversations c
		JOIN users u ON u.id = c.id
		ORDER BY c.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	defer rows.Close()

	var entries []domain.RosterEntry
	for rows.Next() {
		var e domain.RosterEntry
		var updatedAt string
		if err := rows.Scan(&e.ConversationID, &e.DisplayName, &e.Email, &updatedAt, &e.UnreadCount); err != nil {
			return nil, fmt.Errorf("scanning roster entry: %w", err)
		}
		e.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		preview, err := s.lastMessage(entries[i].ConversationID)
		if err != nil {
			return nil, err
		}
		entries[i].LastMessage = preview
	}
	return entries, nil
}

// lastMessage returns the newest message preview, or nil for an empty
// conversation.
func (s *ChatStore) lastMessage(conversationID string) (*domain.Preview, error) {
	var p domain.Preview
	var sender, createdAt string
	err := s.db.sql.QueryRow(
		`SELECT body, sender, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`,
		conversationID,
	).Scan(&p.Body, &sender, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading preview: %w", err)
	}
	p.Sender = domain.Role(sender)
	p.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return &p, nil
}
