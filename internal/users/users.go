package users

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/kirimapp/kirim/internal/apperr"
	"github.com/kirimapp/kirim/internal/models"
)

// Service owns profile data and moderation state.
type Service struct {
	db *sql.DB
}

func New(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetByID(userID int) (*models.User, error) {
	var user models.User
	var lastSeen, createdAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, username, email, profile_picture, bio,
			is_admin, is_active, is_blocked, last_seen, created_at
		FROM users WHERE id = ?
	`, userID).Scan(
		&user.ID, &user.Username, &user.Email, &user.ProfilePicture, &user.Bio,
		&user.IsAdmin, &user.IsActive, &user.IsBlocked, &lastSeen, &createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if lastSeen.Valid {
		user.LastSeen = lastSeen.Time
	}
	if createdAt.Valid {
		user.CreatedAt = createdAt.Time
	}

	links, err := s.socialLinks(userID)
	if err != nil {
		return nil, err
	}
	user.SocialLinks = links

	return &user, nil
}

func (s *Service) socialLinks(userID int) ([]models.SocialLink, error) {
	rows, err := s.db.Query(`
		SELECT name, url FROM social_links WHERE user_id = ? ORDER BY position ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query social links: %w", err)
	}
	defer rows.Close()

	links := make([]models.SocialLink, 0)
	for rows.Next() {
		var link models.SocialLink
		if err := rows.Scan(&link.Name, &link.URL); err != nil {
			return nil, fmt.Errorf("failed to scan social link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading social links: %w", err)
	}
	return links, nil
}

// NormalizeSocialLinks zips name/url pairs, skips incomplete entries, and
// defaults missing URL schemes to https.
func NormalizeSocialLinks(names, urls []string) []models.SocialLink {
	count := len(names)
	if len(urls) < count {
		count = len(urls)
	}

	links := make([]models.SocialLink, 0, count)
	for i := 0; i < count; i++ {
		name := strings.TrimSpace(names[i])
		url := strings.TrimSpace(urls[i])
		if name == "" || url == "" {
			continue
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "https://" + url
		}
		links = append(links, models.SocialLink{Name: name, URL: url})
	}
	return links
}

// UpdateProfile replaces the bio and the full ordered social-link list, and
// optionally the profile picture, as one transaction.
func (s *Service) UpdateProfile(userID int, bio string, links []models.SocialLink, pictureURL *string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if pictureURL != nil {
		_, err = tx.Exec("UPDATE users SET bio = ?, profile_picture = ? WHERE id = ?", bio, *pictureURL, userID)
	} else {
		_, err = tx.Exec("UPDATE users SET bio = ? WHERE id = ?", bio, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM social_links WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear social links: %w", err)
	}
	for position, link := range links {
		_, err := tx.Exec(`
			INSERT INTO social_links (user_id, position, name, url) VALUES (?, ?, ?, ?)
		`, userID, position, link.Name, link.URL)
		if err != nil {
			return fmt.Errorf("failed to insert social link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile update: %w", err)
	}
	return nil
}

// TouchLastSeen records request activity. The write is best-effort: a
// failure is logged and swallowed so it never blocks the request it rides on.
func (s *Service) TouchLastSeen(userID int) {
	if _, err := s.db.Exec("UPDATE users SET last_seen = CURRENT_TIMESTAMP WHERE id = ?", userID); err != nil {
		log.Printf("users: failed to update last_seen for user %d: %v", userID, err)
	}
}

// ToggleBlock flips the blocked flag. Admin accounts cannot be blocked.
func (s *Service) ToggleBlock(targetID int) (bool, error) {
	return s.toggleFlag(targetID, "is_blocked", "cannot block an admin")
}

// ToggleActive flips the active flag. Admin accounts cannot be deactivated.
func (s *Service) ToggleActive(targetID int) (bool, error) {
	return s.toggleFlag(targetID, "is_active", "cannot deactivate an admin")
}

func (s *Service) toggleFlag(targetID int, column, adminMessage string) (bool, error) {
	var isAdmin, current bool
	err := s.db.QueryRow(
		"SELECT is_admin, "+column+" FROM users WHERE id = ?", targetID,
	).Scan(&isAdmin, &current)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, apperr.NotFound("user not found")
		}
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	if isAdmin {
		return current, apperr.Forbidden(adminMessage)
	}

	next := !current
	if _, err := s.db.Exec("UPDATE users SET "+column+" = ? WHERE id = ?", next, targetID); err != nil {
		return current, fmt.Errorf("failed to update user: %w", err)
	}
	return next, nil
}

// DeleteUser removes the account and every message it sent or received, as
// one transaction so no message can outlive its user.
func (s *Service) DeleteUser(targetID int) error {
	var isAdmin bool
	err := s.db.QueryRow("SELECT is_admin FROM users WHERE id = ?", targetID).Scan(&isAdmin)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperr.NotFound("user not found")
		}
		return fmt.Errorf("failed to query user: %w", err)
	}
	if isAdmin {
		return apperr.Forbidden("cannot delete an admin")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE sender_id = ? OR receiver_id = ?", targetID, targetID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM social_links WHERE user_id = ?", targetID); err != nil {
		return fmt.Errorf("failed to delete social links: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM push_subscriptions WHERE user_id = ?", targetID); err != nil {
		return fmt.Errorf("failed to delete push subscriptions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM users WHERE id = ?", targetID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user deletion: %w", err)
	}
	return nil
}

// PurgeAllMessages deletes every message and reports how many were removed.
func (s *Service) PurgeAllMessages() (int64, error) {
	result, err := s.db.Exec("DELETE FROM messages")
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return removed, nil
}

// Stats is the admin dashboard summary.
type Stats struct {
	TotalUsers     int64 `json:"total_users"`
	ActiveUsers    int64 `json:"active_users"`
	BlockedUsers   int64 `json:"blocked_users"`
	OnlineUsers    int64 `json:"online_users"`
	TotalMessages  int64 `json:"total_messages"`
	UnreadMessages int64 `json:"unread_messages"`
}

// Stats counts exclude admin accounts on the user-side numbers, matching the
// dashboard the admin sees (everyone but themselves).
func (s *Service) Stats() (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.TotalUsers, "SELECT COUNT(*) FROM users WHERE is_admin = 0", nil},
		{&stats.ActiveUsers, "SELECT COUNT(*) FROM users WHERE is_admin = 0 AND is_active = 1 AND is_blocked = 0", nil},
		{&stats.BlockedUsers, "SELECT COUNT(*) FROM users WHERE is_blocked = 1", nil},
		{&stats.OnlineUsers, "SELECT COUNT(*) FROM users WHERE is_admin = 0 AND datetime(last_seen) >= datetime('now', '-5 minutes')", nil},
		{&stats.TotalMessages, "SELECT COUNT(*) FROM messages", nil},
		{&stats.UnreadMessages, "SELECT COUNT(*) FROM messages WHERE is_read = 0", nil},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query, q.args...).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}
	return stats, nil
}
