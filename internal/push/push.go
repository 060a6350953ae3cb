package push

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Notifier sends Web Push notifications to subscribed users. Delivery of the
// messages themselves stays on the polling endpoints; this only nudges the
// receiver's browser.
type Notifier struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
}

// Subscription represents a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(db *sql.DB, vapidPublicKey, vapidPrivateKey string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	return n.vapidPublicKey
}

// Save stores or revives a subscription for the user.
func (n *Notifier) Save(userID int, sub Subscription) error {
	if n == nil {
		return nil
	}
	_, err := n.db.Exec(`
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, endpoint)
		DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth, revoked_at = NULL
	`, userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth)
	return err
}

// Revoke marks the subscription endpoint as revoked for the user.
func (n *Notifier) Revoke(userID int, endpoint string) error {
	if n == nil {
		return nil
	}
	_, err := n.db.Exec(`
		UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND endpoint = ?
	`, userID, endpoint)
	return err
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// SendNewMessageNotification sends a push notification to all subscriptions
// of receiverID. Failures are logged, never surfaced: the message itself is
// already persisted and will arrive on the next poll.
func (n *Notifier) SendNewMessageNotification(receiverID, senderID int, senderUsername string) {
	if n == nil {
		return
	}

	rows, err := n.db.Query(
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL",
		receiverID,
	)
	if err != nil {
		log.Printf("push: failed to query subscriptions for user %d: %v", receiverID, err)
		return
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			log.Printf("push: failed to scan subscription for user %d: %v", receiverID, err)
			continue
		}
		subs = append(subs, sub)
	}

	if len(subs) == 0 {
		return
	}

	body, err := json.Marshal(payload{
		Title: "Pesan baru",
		Body:  "Pesan baru dari " + senderUsername,
		URL:   "/chat/" + strconv.Itoa(senderID),
	})
	if err != nil {
		log.Printf("push: failed to marshal payload: %v", err)
		return
	}

	for _, sub := range subs {
		n.send(receiverID, sub, body)
	}
}

func (n *Notifier) send(userID int, sub Subscription, body []byte) {
	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		TTL:             60,
	})
	if err != nil {
		log.Printf("push: failed to send to user %d: %v", userID, err)
		return
	}
	defer resp.Body.Close()

	// Gone subscriptions are revoked so we stop retrying them.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if _, err := n.db.Exec(
			"UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP WHERE user_id = ? AND endpoint = ?",
			userID, sub.Endpoint,
		); err != nil {
			log.Printf("push: failed to revoke subscription for user %d: %v", userID, err)
		}
	}
}
