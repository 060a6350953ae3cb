package models

import "time"

// DefaultProfilePicture is the avatar used until the user uploads one.
const DefaultProfilePicture = "https://res.cloudinary.com/demo/image/upload/default_avatar.png"

// OnlineWindow is how recently a user must have been seen to count as online.
const OnlineWindow = 5 * time.Minute

// Principal is the authenticated identity attached to every request.
// Core services receive it explicitly instead of reading ambient state.
type Principal struct {
	ID       int
	Username string
	IsAdmin  bool
}

type SocialLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type User struct {
	ID             int          `json:"id"`
	Username       string       `json:"username"`
	Email          string       `json:"email"`
	PasswordHash   string       `json:"-"`
	ProfilePicture string       `json:"profile_picture"`
	Bio            string       `json:"bio"`
	SocialLinks    []SocialLink `json:"social_links"`
	IsAdmin        bool         `json:"is_admin"`
	IsActive       bool         `json:"is_active"`
	IsBlocked      bool         `json:"is_blocked"`
	LastSeen       time.Time    `json:"last_seen"`
	CreatedAt      time.Time    `json:"created_at"`
}

// CanChat reports whether the user is eligible to receive messages.
func (u *User) CanChat() bool {
	return u.IsActive && !u.IsBlocked
}

// IsOnline reports whether the user was seen within the online window.
func (u *User) IsOnline(now time.Time) bool {
	if u.LastSeen.IsZero() {
		return false
	}
	return u.LastSeen.After(now.Add(-OnlineWindow))
}

type Message struct {
	ID            int       `json:"id"`
	Content       *string   `json:"content"`
	MediaURL      *string   `json:"media_url"`
	MediaType     *string   `json:"media_type"`
	MediaPublicID *string   `json:"-"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
	SenderID      int       `json:"sender_id"`
	ReceiverID    int       `json:"receiver_id"`
}

// MessageView is the wire representation of a message, with the sender's
// display fields denormalized so the client can render without a round trip.
type MessageView struct {
	ID               int     `json:"id"`
	Content          *string `json:"content"`
	MediaURL         *string `json:"media_url"`
	MediaType        *string `json:"media_type"`
	IsRead           bool    `json:"is_read"`
	Timestamp        string  `json:"timestamp"`
	FullTimestamp    string  `json:"full_timestamp"`
	SenderID         int     `json:"sender_id"`
	ReceiverID       int     `json:"receiver_id"`
	SenderUsername   string  `json:"sender_username"`
	SenderProfilePic string  `json:"sender_profile_pic"`
}

// View renders the message for the wire using the sender's display fields.
func (m *Message) View(senderUsername, senderProfilePic string) *MessageView {
	return &MessageView{
		ID:               m.ID,
		Content:          m.Content,
		MediaURL:         m.MediaURL,
		MediaType:        m.MediaType,
		IsRead:           m.IsRead,
		Timestamp:        m.CreatedAt.Format("15:04"),
		FullTimestamp:    m.CreatedAt.Format("02 Jan 2006 15:04"),
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		SenderUsername:   senderUsername,
		SenderProfilePic: senderProfilePic,
	}
}

// Counterpart is a chat partner entry on the user list, with the number of
// messages from that user the viewer has not read yet.
type Counterpart struct {
	ID             int    `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture"`
	Bio            string `json:"bio"`
	IsAdmin        bool   `json:"is_admin"`
	IsOnline       bool   `json:"is_online"`
	UnreadCount    int    `json:"unread_count"`
}
