package chat

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirimapp/kirim/internal/apperr"
	"github.com/kirimapp/kirim/internal/db"
	"github.com/kirimapp/kirim/internal/media"
	"github.com/kirimapp/kirim/internal/models"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "kirim-chat-test")
	if err != nil {
		panic(err)
	}

	database, err := db.New(filepath.Join(dir, "test.db"))
	if err != nil {
		panic(err)
	}
	testDB = database.GetConn()

	code := m.Run()

	database.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

func clearTestData(t *testing.T) {
	t.Helper()
	for _, table := range []string{"messages", "social_links", "push_subscriptions", "users"} {
		if _, err := testDB.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("Failed to clear %s: %v", table, err)
		}
	}
}

type fakeStore struct {
	uploadErr  error
	destroyErr error
	uploads    []string
	destroyed  []string
}

func (f *fakeStore) Upload(ctx context.Context, file io.Reader, filename, folder string) (*media.Upload, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, filename)
	return &media.Upload{
		URL:          "https://media.test/" + folder + "/" + filename,
		PublicID:     folder + "/" + filename,
		ResourceType: media.ResourceTypeFor(filename),
	}, nil
}

func (f *fakeStore) Destroy(ctx context.Context, publicID, resourceType string) error {
	if f.destroyErr != nil {
		return f.destroyErr
	}
	f.destroyed = append(f.destroyed, publicID)
	return nil
}

func createUser(t *testing.T, username string, isAdmin, isActive, isBlocked bool) int {
	t.Helper()
	result, err := testDB.Exec(`
		INSERT INTO users (username, email, password_hash, is_admin, is_active, is_blocked)
		VALUES (?, ?, 'x', ?, ?, ?)
	`, username, username+"@example.com", isAdmin, isActive, isBlocked)
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	id, _ := result.LastInsertId()
	return int(id)
}

func insertMessage(t *testing.T, senderID, receiverID int, content string, isRead bool) int {
	t.Helper()
	result, err := testDB.Exec(`
		INSERT INTO messages (content, is_read, sender_id, receiver_id)
		VALUES (?, ?, ?, ?)
	`, content, isRead, senderID, receiverID)
	if err != nil {
		t.Fatalf("Failed to insert message: %v", err)
	}
	id, _ := result.LastInsertId()
	return int(id)
}

func unreadCount(t *testing.T, senderID, receiverID int) int {
	t.Helper()
	var count int
	err := testDB.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0
	`, senderID, receiverID).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count unread: %v", err)
	}
	return count
}

func principal(id int, username string, isAdmin bool) models.Principal {
	return models.Principal{ID: id, Username: username, IsAdmin: isAdmin}
}

func TestGetConversation(t *testing.T) {
	clearTestData(t)
	svc := New(testDB, &fakeStore{}, "chat_app")

	aliceID := createUser(t, "alice", false, true, false)
	bobID := createUser(t, "bob", false, true, false)
	blockedID := createUser(t, "mallory", false, true, true)

	alice := principal(aliceID, "alice", false)

	t.Run("unknown counterpart", func(t *testing.T) {
		_, err := svc.GetConversation(alice, 999999)
		if apperr.CodeOf(err) != apperr.CodeNotFound {
			t.Errorf("GetConversation() code = %v, want NOT_FOUND", apperr.CodeOf(err))
		}
	})

	t.Run("blocked counterpart", func(t *testing.T) {
		_, err := svc.GetConversation(alice, blockedID)
		if apperr.CodeOf(err) != apperr.CodeNotReachable {
			t.Errorf("GetConversation() code = %v, want NOT_REACHABLE", apperr.CodeOf(err))
		}
	})

	t.Run("marks all incoming read", func(t *testing.T) {
		insertMessage(t, bobID, aliceID, "one", false)
		insertMessage(t, bobID, aliceID, "two", false)
		insertMessage(t, aliceID, bobID, "reply", false)
		insertMessage(t, bobID, aliceID, "three", false)

		messages, err := svc.GetConversation(alice, bobID)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if len(messages) != 4 {
			t.Fatalf("GetConversation() returned %d messages, want 4", len(messages))
		}

		for i := 1; i < len(messages); i++ {
			if messages[i].ID < messages[i-1].ID {
				t.Errorf("messages out of order: id %d after id %d", messages[i].ID, messages[i-1].ID)
			}
		}

		for _, msg := range messages {
			if msg.ReceiverID == aliceID && !msg.IsRead {
				t.Errorf("incoming message %d not marked read in response", msg.ID)
			}
		}

		if got := unreadCount(t, bobID, aliceID); got != 0 {
			t.Errorf("unread incoming after view = %d, want 0", got)
		}
		// Alice's own outgoing message stays unread until Bob views.
		if got := unreadCount(t, aliceID, bobID); got != 1 {
			t.Errorf("unread outgoing after view = %d, want 1", got)
		}
	})

	t.Run("viewing one conversation leaves others untouched", func(t *testing.T) {
		claraID := createUser(t, "clara", false, true, false)
		insertMessage(t, claraID, aliceID, "hey", false)

		if _, err := svc.GetConversation(alice, bobID); err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}

		if got := unreadCount(t, claraID, aliceID); got != 1 {
			t.Errorf("unrelated conversation unread = %d, want 1", got)
		}
	})
}

func TestListCounterparts(t *testing.T) {
	clearTestData(t)
	svc := New(testDB, &fakeStore{}, "chat_app")

	adminID := createUser(t, "zadmin", true, true, false)
	aliceID := createUser(t, "alice", false, true, false)
	bobID := createUser(t, "bob", false, true, false)
	blockedID := createUser(t, "carol", false, true, true)
	inactiveID := createUser(t, "dave", false, false, false)

	insertMessage(t, bobID, aliceID, "unread one", false)
	insertMessage(t, bobID, aliceID, "unread two", false)
	insertMessage(t, adminID, aliceID, "notice", false)
	insertMessage(t, aliceID, bobID, "outgoing", false)

	t.Run("regular viewer", func(t *testing.T) {
		counterparts, err := svc.ListCounterparts(principal(aliceID, "alice", false))
		if err != nil {
			t.Fatalf("ListCounterparts() error = %v", err)
		}

		// Admin first despite sorting after "bob" alphabetically, then the
		// reachable users; blocked and inactive accounts hidden.
		if len(counterparts) != 2 {
			t.Fatalf("ListCounterparts() returned %d entries, want 2", len(counterparts))
		}
		if counterparts[0].ID != adminID {
			t.Errorf("first entry = %s, want admin", counterparts[0].Username)
		}
		if counterparts[1].ID != bobID {
			t.Errorf("second entry = %s, want bob", counterparts[1].Username)
		}

		if counterparts[0].UnreadCount != 1 {
			t.Errorf("admin unread = %d, want 1", counterparts[0].UnreadCount)
		}
		if counterparts[1].UnreadCount != 2 {
			t.Errorf("bob unread = %d, want 2", counterparts[1].UnreadCount)
		}
	})

	t.Run("admin viewer sees everyone", func(t *testing.T) {
		counterparts, err := svc.ListCounterparts(principal(adminID, "zadmin", true))
		if err != nil {
			t.Fatalf("ListCounterparts() error = %v", err)
		}
		if len(counterparts) != 4 {
			t.Fatalf("ListCounterparts() returned %d entries, want 4", len(counterparts))
		}
		seen := map[int]bool{}
		for _, entry := range counterparts {
			seen[entry.ID] = true
		}
		if !seen[blockedID] || !seen[inactiveID] {
			t.Error("admin list missing blocked or inactive accounts")
		}
	})

	t.Run("excludes the viewer", func(t *testing.T) {
		counterparts, err := svc.ListCounterparts(principal(aliceID, "alice", false))
		if err != nil {
			t.Fatalf("ListCounterparts() error = %v", err)
		}
		for _, entry := range counterparts {
			if entry.ID == aliceID {
				t.Error("viewer listed as their own counterpart")
			}
		}
	})
}

func TestFetchNewMessages(t *testing.T) {
	clearTestData(t)
	svc := New(testDB, &fakeStore{}, "chat_app")

	aliceID := createUser(t, "alice", false, true, false)
	bobID := createUser(t, "bob", false, true, false)
	alice := principal(aliceID, "alice", false)

	first := insertMessage(t, bobID, aliceID, "old", true)
	second := insertMessage(t, bobID, aliceID, "new unread", false)
	third := insertMessage(t, aliceID, bobID, "outgoing", false)

	t.Run("returns only messages past the cursor", func(t *testing.T) {
		messages, err := svc.FetchNewMessages(alice, bobID, first)
		if err != nil {
			t.Fatalf("FetchNewMessages() error = %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("FetchNewMessages() returned %d messages, want 2", len(messages))
		}
		if messages[0].ID != second || messages[1].ID != third {
			t.Errorf("got ids %d,%d want %d,%d", messages[0].ID, messages[1].ID, second, third)
		}

		if !messages[0].IsRead {
			t.Error("incoming message not marked read in response")
		}
		if got := unreadCount(t, bobID, aliceID); got != 0 {
			t.Errorf("unread incoming after fetch = %d, want 0", got)
		}
	})

	t.Run("outgoing only poll leaves read state alone", func(t *testing.T) {
		fourth := insertMessage(t, aliceID, bobID, "another outgoing", false)

		messages, err := svc.FetchNewMessages(alice, bobID, third)
		if err != nil {
			t.Fatalf("FetchNewMessages() error = %v", err)
		}
		if len(messages) != 1 || messages[0].ID != fourth {
			t.Fatalf("FetchNewMessages() = %v, want single message %d", messages, fourth)
		}

		// Bob has not seen either outgoing message.
		if got := unreadCount(t, aliceID, bobID); got != 2 {
			t.Errorf("outgoing unread = %d, want 2", got)
		}
	})

	t.Run("negative cursor acts as zero", func(t *testing.T) {
		messages, err := svc.FetchNewMessages(alice, bobID, -5)
		if err != nil {
			t.Fatalf("FetchNewMessages() error = %v", err)
		}
		if len(messages) != 4 {
			t.Errorf("FetchNewMessages() returned %d messages, want 4", len(messages))
		}
	})

	t.Run("empty result past the newest id", func(t *testing.T) {
		messages, err := svc.FetchNewMessages(alice, bobID, 1_000_000)
		if err != nil {
			t.Fatalf("FetchNewMessages() error = %v", err)
		}
		if len(messages) != 0 {
			t.Errorf("FetchNewMessages() returned %d messages, want 0", len(messages))
		}
	})
}

func TestSendMessage(t *testing.T) {
	clearTestData(t)
	store := &fakeStore{}
	svc := New(testDB, store, "chat_app")
	ctx := context.Background()

	aliceID := createUser(t, "alice", false, true, false)
	bobID := createUser(t, "bob", false, true, false)
	blockedID := createUser(t, "mallory", false, true, false)
	if _, err := testDB.Exec("UPDATE users SET is_blocked = 1 WHERE id = ?", blockedID); err != nil {
		t.Fatalf("Failed to block user: %v", err)
	}
	alice := principal(aliceID, "alice", false)

	t.Run("missing receiver", func(t *testing.T) {
		_, err := svc.SendMessage(ctx, alice, 999999, "hello", nil)
		if apperr.CodeOf(err) != apperr.CodeNotReachable {
			t.Errorf("SendMessage() code = %v, want NOT_REACHABLE", apperr.CodeOf(err))
		}
	})

	t.Run("blocked receiver", func(t *testing.T) {
		_, err := svc.SendMessage(ctx, alice, blockedID, "hello", nil)
		if apperr.CodeOf(err) != apperr.CodeNotReachable {
			t.Errorf("SendMessage() code = %v, want NOT_REACHABLE", apperr.CodeOf(err))
		}
	})

	t.Run("whitespace only content", func(t *testing.T) {
		_, err := svc.SendMessage(ctx, alice, bobID, "   \n\t ", nil)
		if apperr.CodeOf(err) != apperr.CodeEmptyMessage {
			t.Errorf("SendMessage() code = %v, want EMPTY_MESSAGE", apperr.CodeOf(err))
		}
	})

	t.Run("text message", func(t *testing.T) {
		view, err := svc.SendMessage(ctx, alice, bobID, "  hello bob  ", nil)
		if err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		if view.Content == nil || *view.Content != "hello bob" {
			t.Errorf("content = %v, want trimmed 'hello bob'", view.Content)
		}
		if view.SenderID != aliceID || view.ReceiverID != bobID {
			t.Errorf("sender/receiver = %d/%d, want %d/%d", view.SenderID, view.ReceiverID, aliceID, bobID)
		}
		if view.IsRead {
			t.Error("new message born read")
		}
		if view.SenderUsername != "alice" {
			t.Errorf("sender_username = %s, want alice", view.SenderUsername)
		}
	})

	t.Run("attachment only message", func(t *testing.T) {
		attachment := &Attachment{File: strings.NewReader("payload"), Filename: "photo.png"}
		view, err := svc.SendMessage(ctx, alice, bobID, "", attachment)
		if err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		if view.Content != nil {
			t.Errorf("content = %v, want nil", *view.Content)
		}
		if view.MediaURL == nil {
			t.Fatal("media_url missing")
		}
		if view.MediaType == nil || *view.MediaType != "image" {
			t.Errorf("media_type = %v, want image", view.MediaType)
		}
		if len(store.uploads) != 1 || store.uploads[0] != "photo.png" {
			t.Errorf("uploads = %v, want [photo.png]", store.uploads)
		}
	})

	t.Run("upload failure creates no row", func(t *testing.T) {
		var before int
		testDB.QueryRow("SELECT COUNT(*) FROM messages").Scan(&before)

		failing := New(testDB, &fakeStore{uploadErr: errors.New("remote down")}, "chat_app")
		attachment := &Attachment{File: strings.NewReader("payload"), Filename: "clip.mp4"}
		_, err := failing.SendMessage(ctx, alice, bobID, "caption", attachment)
		if apperr.CodeOf(err) != apperr.CodeUploadFailed {
			t.Errorf("SendMessage() code = %v, want UPLOAD_FAILED", apperr.CodeOf(err))
		}

		var after int
		testDB.QueryRow("SELECT COUNT(*) FROM messages").Scan(&after)
		if after != before {
			t.Errorf("message count changed %d -> %d on failed upload", before, after)
		}
	})
}

func TestDeleteMessage(t *testing.T) {
	clearTestData(t)
	store := &fakeStore{}
	svc := New(testDB, store, "chat_app")
	ctx := context.Background()

	adminID := createUser(t, "admin", true, true, false)
	aliceID := createUser(t, "alice", false, true, false)
	bobID := createUser(t, "bob", false, true, false)

	alice := principal(aliceID, "alice", false)
	bob := principal(bobID, "bob", false)
	admin := principal(adminID, "admin", true)

	t.Run("missing message", func(t *testing.T) {
		err := svc.DeleteMessage(ctx, alice, 999999)
		if apperr.CodeOf(err) != apperr.CodeNotFound {
			t.Errorf("DeleteMessage() code = %v, want NOT_FOUND", apperr.CodeOf(err))
		}
	})

	t.Run("receiver cannot delete", func(t *testing.T) {
		msgID := insertMessage(t, aliceID, bobID, "mine", false)
		err := svc.DeleteMessage(ctx, bob, msgID)
		if apperr.CodeOf(err) != apperr.CodeForbidden {
			t.Errorf("DeleteMessage() code = %v, want FORBIDDEN", apperr.CodeOf(err))
		}
	})

	t.Run("sender deletes own message", func(t *testing.T) {
		msgID := insertMessage(t, aliceID, bobID, "delete me", false)
		if err := svc.DeleteMessage(ctx, alice, msgID); err != nil {
			t.Fatalf("DeleteMessage() error = %v", err)
		}
		var count int
		testDB.QueryRow("SELECT COUNT(*) FROM messages WHERE id = ?", msgID).Scan(&count)
		if count != 0 {
			t.Error("message survived deletion")
		}
	})

	t.Run("admin deletes media message and destroys remote object", func(t *testing.T) {
		result, err := testDB.Exec(`
			INSERT INTO messages (media_url, media_type, media_public_id, is_read, sender_id, receiver_id)
			VALUES ('https://media.test/p', 'image', 'chat_app/p', 0, ?, ?)
		`, aliceID, bobID)
		if err != nil {
			t.Fatalf("Failed to insert media message: %v", err)
		}
		msgID64, _ := result.LastInsertId()

		if err := svc.DeleteMessage(ctx, admin, int(msgID64)); err != nil {
			t.Fatalf("DeleteMessage() error = %v", err)
		}
		if len(store.destroyed) != 1 || store.destroyed[0] != "chat_app/p" {
			t.Errorf("destroyed = %v, want [chat_app/p]", store.destroyed)
		}
	})

	t.Run("destroy failure still deletes the row", func(t *testing.T) {
		failing := New(testDB, &fakeStore{destroyErr: errors.New("remote down")}, "chat_app")
		result, err := testDB.Exec(`
			INSERT INTO messages (media_url, media_type, media_public_id, is_read, sender_id, receiver_id)
			VALUES ('https://media.test/q', 'image', 'chat_app/q', 0, ?, ?)
		`, aliceID, bobID)
		if err != nil {
			t.Fatalf("Failed to insert media message: %v", err)
		}
		msgID64, _ := result.LastInsertId()

		if err := failing.DeleteMessage(ctx, admin, int(msgID64)); err != nil {
			t.Fatalf("DeleteMessage() error = %v", err)
		}
		var count int
		testDB.QueryRow("SELECT COUNT(*) FROM messages WHERE id = ?", msgID64).Scan(&count)
		if count != 0 {
			t.Error("message survived deletion after destroy failure")
		}
	})

	t.Run("sender media delete keeps remote object", func(t *testing.T) {
		tracking := &fakeStore{}
		svcTracking := New(testDB, tracking, "chat_app")
		result, err := testDB.Exec(`
			INSERT INTO messages (media_url, media_type, media_public_id, is_read, sender_id, receiver_id)
			VALUES ('https://media.test/r', 'image', 'chat_app/r', 0, ?, ?)
		`, aliceID, bobID)
		if err != nil {
			t.Fatalf("Failed to insert media message: %v", err)
		}
		msgID64, _ := result.LastInsertId()

		if err := svcTracking.DeleteMessage(ctx, alice, int(msgID64)); err != nil {
			t.Fatalf("DeleteMessage() error = %v", err)
		}
		if len(tracking.destroyed) != 0 {
			t.Errorf("destroyed = %v, want none for sender delete", tracking.destroyed)
		}
	})
}

