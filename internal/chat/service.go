package chat

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/kirimapp/kirim/internal/apperr"
	"github.com/kirimapp/kirim/internal/media"
	"github.com/kirimapp/kirim/internal/models"
)

// Attachment is an uploaded file accompanying a message.
type Attachment struct {
	File     io.Reader
	Filename string
}

// Service implements the messaging core: conversation retrieval with
// read-tracking, incremental polling, send and delete.
type Service struct {
	db          *sql.DB
	media       media.Store
	mediaFolder string
}

func New(db *sql.DB, mediaStore media.Store, mediaFolder string) *Service {
	return &Service{db: db, media: mediaStore, mediaFolder: mediaFolder}
}

const messageColumns = `
	m.id, m.content, m.media_url, m.media_type, m.is_read, m.created_at,
	m.sender_id, m.receiver_id, u.username, u.profile_picture
`

func scanMessageView(rows *sql.Rows) (*models.MessageView, error) {
	var msg models.Message
	var content, mediaURL, mediaType sql.NullString
	var senderUsername, senderProfilePic string

	err := rows.Scan(
		&msg.ID, &content, &mediaURL, &mediaType, &msg.IsRead, &msg.CreatedAt,
		&msg.SenderID, &msg.ReceiverID, &senderUsername, &senderProfilePic,
	)
	if err != nil {
		return nil, err
	}

	if content.Valid {
		msg.Content = &content.String
	}
	if mediaURL.Valid {
		msg.MediaURL = &mediaURL.String
	}
	if mediaType.Valid {
		msg.MediaType = &mediaType.String
	}

	return msg.View(senderUsername, senderProfilePic), nil
}

// counterpartStanding loads the reachability flags for a chat partner.
func (s *Service) counterpartStanding(counterpartID int) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(`
		SELECT id, username, profile_picture, is_active, is_blocked
		FROM users WHERE id = ?
	`, counterpartID).Scan(
		&user.ID, &user.Username, &user.ProfilePicture, &user.IsActive, &user.IsBlocked,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// GetConversation returns the full ordered history between the viewer and
// the counterpart, and marks every stored incoming message as read in the
// same transaction.
func (s *Service) GetConversation(viewer models.Principal, counterpartID int) ([]*models.MessageView, error) {
	counterpart, err := s.counterpartStanding(counterpartID)
	if err != nil {
		return nil, err
	}
	if counterpart == nil {
		return nil, apperr.NotFound("user not found")
	}
	if !counterpart.CanChat() {
		return nil, apperr.NotReachable("user cannot be messaged")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE (m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.created_at ASC, m.id ASC
	`, viewer.ID, counterpartID, counterpartID, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	messages := make([]*models.MessageView, 0)
	for rows.Next() {
		view, err := scanMessageView(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, view)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed while reading messages: %w", err)
	}
	rows.Close()

	// One statement covers every unread incoming message, however many.
	_, err = tx.Exec(`
		UPDATE messages SET is_read = 1
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
	`, viewer.ID, counterpartID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read flip: %w", err)
	}

	// The returned views reflect the committed state.
	for _, view := range messages {
		if view.ReceiverID == viewer.ID {
			view.IsRead = true
		}
	}

	return messages, nil
}

// ListCounterparts returns the users the viewer may message, admin accounts
// first then alphabetically, each with an independent unread count. Admin
// viewers see every account regardless of standing.
func (s *Service) ListCounterparts(viewer models.Principal) ([]*models.Counterpart, error) {
	query := `
		SELECT u.id, u.username, u.profile_picture, u.bio, u.is_admin, u.last_seen,
			(SELECT COUNT(*) FROM messages m
				WHERE m.sender_id = u.id AND m.receiver_id = ? AND m.is_read = 0)
		FROM users u
		WHERE u.id != ?
	`
	if !viewer.IsAdmin {
		query += " AND u.is_active = 1 AND u.is_blocked = 0"
	}
	query += " ORDER BY u.is_admin DESC, u.username ASC"

	rows, err := s.db.Query(query, viewer.ID, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	counterparts := make([]*models.Counterpart, 0)
	for rows.Next() {
		var entry models.Counterpart
		var lastSeen sql.NullTime
		if err := rows.Scan(
			&entry.ID, &entry.Username, &entry.ProfilePicture, &entry.Bio,
			&entry.IsAdmin, &lastSeen, &entry.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if lastSeen.Valid {
			entry.IsOnline = lastSeen.Time.After(now.Add(-models.OnlineWindow))
		}
		counterparts = append(counterparts, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading users: %w", err)
	}

	return counterparts, nil
}

// FetchNewMessages returns conversation messages with an identifier greater
// than lastSeenID, oldest first. Incoming unread messages among them are
// flipped to read; the write is committed only when at least one row needs
// the flip, so pure outgoing polling stays read-only.
func (s *Service) FetchNewMessages(viewer models.Principal, counterpartID, lastSeenID int) ([]*models.MessageView, error) {
	if lastSeenID < 0 {
		lastSeenID = 0
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))
			AND m.id > ?
		ORDER BY m.created_at ASC, m.id ASC
	`, viewer.ID, counterpartID, counterpartID, viewer.ID, lastSeenID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	messages := make([]*models.MessageView, 0)
	hasUnreadIncoming := false
	for rows.Next() {
		view, err := scanMessageView(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if view.ReceiverID == viewer.ID && !view.IsRead {
			hasUnreadIncoming = true
		}
		messages = append(messages, view)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed while reading messages: %w", err)
	}
	rows.Close()

	if !hasUnreadIncoming {
		// Nothing to flip; skip the commit entirely.
		return messages, nil
	}

	_, err = tx.Exec(`
		UPDATE messages SET is_read = 1
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0 AND id > ?
	`, viewer.ID, counterpartID, lastSeenID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read flip: %w", err)
	}

	for _, view := range messages {
		if view.ReceiverID == viewer.ID {
			view.IsRead = true
		}
	}

	return messages, nil
}

// SendMessage validates the receiver and content, uploads the attachment if
// any, and persists the message. The row is only created after a successful
// upload; an upload failure aborts the whole operation.
func (s *Service) SendMessage(ctx context.Context, sender models.Principal, receiverID int, text string, attachment *Attachment) (*models.MessageView, error) {
	receiver, err := s.counterpartStanding(receiverID)
	if err != nil {
		return nil, err
	}
	if receiver == nil || !receiver.CanChat() {
		return nil, apperr.NotReachable("user cannot be messaged")
	}

	text = strings.TrimSpace(text)
	if text == "" && attachment == nil {
		return nil, apperr.EmptyMessage("message cannot be empty")
	}

	var mediaURL, mediaType, mediaPublicID interface{}
	if attachment != nil {
		upload, err := s.media.Upload(ctx, attachment.File, attachment.Filename, s.mediaFolder)
		if err != nil {
			return nil, apperr.UploadFailed(err)
		}
		mediaURL = upload.URL
		mediaType = upload.ResourceType
		mediaPublicID = upload.PublicID
	}

	var content interface{}
	if text != "" {
		content = text
	}

	result, err := s.db.Exec(`
		INSERT INTO messages (content, media_url, media_type, media_public_id, is_read, created_at, sender_id, receiver_id)
		VALUES (?, ?, ?, ?, 0, CURRENT_TIMESTAMP, ?, ?)
	`, content, mediaURL, mediaType, mediaPublicID, sender.ID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	messageID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}

	return s.messageViewByID(int(messageID))
}

func (s *Service) messageViewByID(messageID int) (*models.MessageView, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch message: %w", err)
		}
		return nil, apperr.NotFound("message not found")
	}

	view, err := scanMessageView(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return view, nil
}

// DeleteMessage removes a message. Only the sender or an admin may delete;
// when an admin deletes a media message the remote object is destroyed
// best-effort, and a destroy failure never blocks the row deletion.
func (s *Service) DeleteMessage(ctx context.Context, requester models.Principal, messageID int) error {
	var senderID int
	var mediaURL, mediaType, mediaPublicID sql.NullString
	err := s.db.QueryRow(`
		SELECT sender_id, media_url, media_type, media_public_id
		FROM messages WHERE id = ?
	`, messageID).Scan(&senderID, &mediaURL, &mediaType, &mediaPublicID)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperr.NotFound("message not found")
		}
		return fmt.Errorf("failed to fetch message: %w", err)
	}

	if senderID != requester.ID && !requester.IsAdmin {
		return apperr.Forbidden("access denied")
	}

	if mediaURL.Valid && requester.IsAdmin && mediaPublicID.String != "" {
		if err := s.media.Destroy(ctx, mediaPublicID.String, mediaType.String); err != nil {
			log.Printf("chat: failed to destroy media %s for message %d: %v", mediaPublicID.String, messageID, err)
		}
	}

	if _, err := s.db.Exec("DELETE FROM messages WHERE id = ?", messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	return nil
}
