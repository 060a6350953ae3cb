package users

import (
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirimapp/kirim/internal/apperr"
	"github.com/kirimapp/kirim/internal/db"
	"github.com/kirimapp/kirim/internal/models"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "kirim-users-test")
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

func createUser(t *testing.T, username string, isAdmin bool) int {
	t.Helper()
	result, err := testDB.Exec(`
		INSERT INTO users (username, email, password_hash, is_admin)
		VALUES (?, ?, 'x', ?)
	`, username, username+"@example.com", isAdmin)
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	id, _ := result.LastInsertId()
	return int(id)
}

func TestNormalizeSocialLinks(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		urls  []string
		want  []models.SocialLink
	}{
		{
			name:  "zips pairs in order",
			names: []string{"GitHub", "Blog"},
			urls:  []string{"https://github.com/alice", "https://blog.example.com"},
			want: []models.SocialLink{
				{Name: "GitHub", URL: "https://github.com/alice"},
				{Name: "Blog", URL: "https://blog.example.com"},
			},
		},
		{
			name:  "skips blank pairs",
			names: []string{"GitHub", "", "Blog"},
			urls:  []string{"https://github.com/alice", "https://x.test", "  "},
			want:  []models.SocialLink{{Name: "GitHub", URL: "https://github.com/alice"}},
		},
		{
			name:  "defaults missing scheme to https",
			names: []string{"Site"},
			urls:  []string{"example.com"},
			want:  []models.SocialLink{{Name: "Site", URL: "https://example.com"}},
		},
		{
			name:  "keeps explicit http",
			names: []string{"Old"},
			urls:  []string{"http://legacy.test"},
			want:  []models.SocialLink{{Name: "Old", URL: "http://legacy.test"}},
		},
		{
			name:  "uneven slices use the shorter length",
			names: []string{"A", "B", "C"},
			urls:  []string{"https://a.test"},
			want:  []models.SocialLink{{Name: "A", URL: "https://a.test"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSocialLinks(tt.names, tt.urls)
			if len(got) != len(tt.want) {
				t.Fatalf("NormalizeSocialLinks() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("link %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	clearTestData(t)
	svc := New(testDB)

	userID := createUser(t, "alice", false)

	links := []models.SocialLink{
		{Name: "GitHub", URL: "https://github.com/alice"},
		{Name: "Blog", URL: "https://blog.example.com"},
	}
	picture := "https://media.test/avatars/alice.png"
	if err := svc.UpdateProfile(userID, "hello there", links, &picture); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	user, err := svc.GetByID(userID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if user.Bio != "hello there" {
		t.Errorf("bio = %q, want 'hello there'", user.Bio)
	}
	if user.ProfilePicture != picture {
		t.Errorf("profile_picture = %q, want %q", user.ProfilePicture, picture)
	}
	if len(user.SocialLinks) != 2 || user.SocialLinks[0].Name != "GitHub" || user.SocialLinks[1].Name != "Blog" {
		t.Errorf("social_links = %v, want ordered GitHub, Blog", user.SocialLinks)
	}

	// A second update replaces the whole list and keeps the picture.
	if err := svc.UpdateProfile(userID, "new bio", []models.SocialLink{{Name: "Only", URL: "https://only.test"}}, nil); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	user, err = svc.GetByID(userID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(user.SocialLinks) != 1 || user.SocialLinks[0].Name != "Only" {
		t.Errorf("social_links after replace = %v, want [Only]", user.SocialLinks)
	}
	if user.ProfilePicture != picture {
		t.Errorf("profile_picture changed to %q on nil update", user.ProfilePicture)
	}
}

func TestToggleFlags(t *testing.T) {
	clearTestData(t)
	svc := New(testDB)

	userID := createUser(t, "bob", false)
	adminID := createUser(t, "admin", true)

	t.Run("block round trip", func(t *testing.T) {
		blocked, err := svc.ToggleBlock(userID)
		if err != nil {
			t.Fatalf("ToggleBlock() error = %v", err)
		}
		if !blocked {
			t.Error("first toggle should block")
		}

		blocked, err = svc.ToggleBlock(userID)
		if err != nil {
			t.Fatalf("ToggleBlock() error = %v", err)
		}
		if blocked {
			t.Error("second toggle should unblock")
		}
	})

	t.Run("deactivate round trip", func(t *testing.T) {
		active, err := svc.ToggleActive(userID)
		if err != nil {
			t.Fatalf("ToggleActive() error = %v", err)
		}
		if active {
			t.Error("first toggle should deactivate")
		}
	})

	t.Run("admin accounts are protected", func(t *testing.T) {
		if _, err := svc.ToggleBlock(adminID); apperr.CodeOf(err) != apperr.CodeForbidden {
			t.Errorf("ToggleBlock(admin) code = %v, want FORBIDDEN", apperr.CodeOf(err))
		}
		if _, err := svc.ToggleActive(adminID); apperr.CodeOf(err) != apperr.CodeForbidden {
			t.Errorf("ToggleActive(admin) code = %v, want FORBIDDEN", apperr.CodeOf(err))
		}
	})

	t.Run("missing user", func(t *testing.T) {
		if _, err := svc.ToggleBlock(999999); apperr.CodeOf(err) != apperr.CodeNotFound {
			t.Errorf("ToggleBlock(missing) code = %v, want NOT_FOUND", apperr.CodeOf(err))
		}
	})
}

func TestDeleteUser(t *testing.T) {
	clearTestData(t)
	svc := New(testDB)

	adminID := createUser(t, "admin", true)
	targetID := createUser(t, "doomed", false)
	otherID := createUser(t, "other", false)

	testDB.Exec("INSERT INTO messages (content, sender_id, receiver_id) VALUES ('out', ?, ?)", targetID, otherID)
	testDB.Exec("INSERT INTO messages (content, sender_id, receiver_id) VALUES ('in', ?, ?)", otherID, targetID)
	testDB.Exec("INSERT INTO messages (content, sender_id, receiver_id) VALUES ('bystander', ?, ?)", otherID, adminID)
	testDB.Exec("INSERT INTO social_links (user_id, position, name, url) VALUES (?, 0, 'x', 'https://x.test')", targetID)
	testDB.Exec("INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth) VALUES (?, 'https://push.test/e', 'k', 'a')", targetID)

	t.Run("cannot delete admin", func(t *testing.T) {
		if err := svc.DeleteUser(adminID); apperr.CodeOf(err) != apperr.CodeForbidden {
			t.Errorf("DeleteUser(admin) code = %v, want FORBIDDEN", apperr.CodeOf(err))
		}
	})

	t.Run("missing user", func(t *testing.T) {
		if err := svc.DeleteUser(999999); apperr.CodeOf(err) != apperr.CodeNotFound {
			t.Errorf("DeleteUser(missing) code = %v, want NOT_FOUND", apperr.CodeOf(err))
		}
	})

	t.Run("cascade removes everything the user owned", func(t *testing.T) {
		if err := svc.DeleteUser(targetID); err != nil {
			t.Fatalf("DeleteUser() error = %v", err)
		}

		checks := map[string]string{
			"user row":       "SELECT COUNT(*) FROM users WHERE id = " + strconv.Itoa(targetID),
			"sent messages":  "SELECT COUNT(*) FROM messages WHERE sender_id = " + strconv.Itoa(targetID),
			"received":       "SELECT COUNT(*) FROM messages WHERE receiver_id = " + strconv.Itoa(targetID),
			"social links":   "SELECT COUNT(*) FROM social_links WHERE user_id = " + strconv.Itoa(targetID),
			"push endpoints": "SELECT COUNT(*) FROM push_subscriptions WHERE user_id = " + strconv.Itoa(targetID),
		}
		for what, query := range checks {
			var count int
			if err := testDB.QueryRow(query).Scan(&count); err != nil {
				t.Fatalf("count query failed: %v", err)
			}
			if count != 0 {
				t.Errorf("%s survived deletion (count %d)", what, count)
			}
		}

		var bystanders int
		testDB.QueryRow("SELECT COUNT(*) FROM messages").Scan(&bystanders)
		if bystanders != 1 {
			t.Errorf("unrelated message count = %d, want 1", bystanders)
		}
	})
}

func TestPurgeAllMessages(t *testing.T) {
	clearTestData(t)
	svc := New(testDB)

	aliceID := createUser(t, "alice", false)
	bobID := createUser(t, "bob", false)
	testDB.Exec("INSERT INTO messages (content, sender_id, receiver_id) VALUES ('a', ?, ?)", aliceID, bobID)
	testDB.Exec("INSERT INTO messages (content, sender_id, receiver_id) VALUES ('b', ?, ?)", bobID, aliceID)

	removed, err := svc.PurgeAllMessages()
	if err != nil {
		t.Fatalf("PurgeAllMessages() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	removed, err = svc.PurgeAllMessages()
	if err != nil {
		t.Fatalf("PurgeAllMessages() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("second purge removed = %d, want 0", removed)
	}
}

func TestStats(t *testing.T) {
	clearTestData(t)
	svc := New(testDB)

	adminID := createUser(t, "admin", true)
	aliceID := createUser(t, "alice", false)
	bobID := createUser(t, "bob", false)
	blockedID := createUser(t, "carol", false)
	testDB.Exec("UPDATE users SET is_blocked = 1 WHERE id = ?", blockedID)
	inactiveID := createUser(t, "dave", false)
	testDB.Exec("UPDATE users SET is_active = 0 WHERE id = ?", inactiveID)

	testDB.Exec("INSERT INTO messages (content, is_read, sender_id, receiver_id) VALUES ('a', 0, ?, ?)", aliceID, bobID)
	testDB.Exec("INSERT INTO messages (content, is_read, sender_id, receiver_id) VALUES ('b', 1, ?, ?)", bobID, adminID)

	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.TotalUsers != 4 {
		t.Errorf("total_users = %d, want 4 (admin excluded)", stats.TotalUsers)
	}
	if stats.ActiveUsers != 2 {
		t.Errorf("active_users = %d, want 2 (blocked and inactive excluded)", stats.ActiveUsers)
	}
	if stats.BlockedUsers != 1 {
		t.Errorf("blocked_users = %d, want 1", stats.BlockedUsers)
	}
	if stats.TotalMessages != 2 {
		t.Errorf("total_messages = %d, want 2", stats.TotalMessages)
	}
	if stats.UnreadMessages != 1 {
		t.Errorf("unread_messages = %d, want 1", stats.UnreadMessages)
	}
}
