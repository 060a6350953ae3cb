package auth

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kirimapp/kirim/internal/apperr"
	"github.com/kirimapp/kirim/internal/models"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 7*24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(username, email, password string) (int, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" || email == "" || password == "" {
		return 0, apperr.InvalidArg("all fields are required")
	}
	if len(username) < 3 {
		return 0, apperr.InvalidArg("username must be at least 3 characters")
	}
	if !usernamePattern.MatchString(username) {
		return 0, apperr.InvalidArg("username can only contain letters, numbers, and underscores")
	}
	if !strings.Contains(email, "@") {
		return 0, apperr.InvalidArg("invalid email address")
	}
	if len(password) < 6 {
		return 0, apperr.InvalidArg("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.db.Exec(
		"INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)",
		username,
		email,
		string(hash),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			if strings.Contains(err.Error(), "users.email") {
				return 0, apperr.AlreadyExists("email already exists")
			}
			return 0, apperr.AlreadyExists("username already exists")
		}
		return 0, fmt.Errorf("failed to register user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get user id: %w", err)
	}

	return int(id), nil
}

// Login checks credentials and account standing, returning a signed token.
// Inactive and blocked accounts are refused even with the right password.
func (s *Service) Login(username, password string) (string, *models.User, error) {
	username = strings.TrimSpace(username)

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, username, email, password_hash, profile_picture, is_admin, is_active, is_blocked
		FROM users WHERE username = ?
	`, username).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.ProfilePicture, &user.IsAdmin, &user.IsActive, &user.IsBlocked,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil, apperr.Unauthenticated("invalid username or password")
		}
		return "", nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.Unauthenticated("invalid username or password")
	}

	if !user.IsActive {
		return "", nil, apperr.Forbidden("account is inactive")
	}
	if user.IsBlocked {
		return "", nil, apperr.Forbidden("account is blocked")
	}

	token, err := s.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, &user, nil
}

func (s *Service) GenerateToken(userID int, username string, isAdmin bool) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// AccountStanding holds the flags the middleware re-checks on every request,
// so a deactivation takes effect before the token expires.
type AccountStanding struct {
	Exists   bool
	IsAdmin  bool
	IsActive bool
}

func (s *Service) Standing(userID int) (AccountStanding, error) {
	var standing AccountStanding
	err := s.db.QueryRow(
		"SELECT is_admin, is_active FROM users WHERE id = ?", userID,
	).Scan(&standing.IsAdmin, &standing.IsActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return AccountStanding{}, nil
		}
		return AccountStanding{}, fmt.Errorf("failed to query user: %w", err)
	}
	standing.Exists = true
	return standing, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(userID int, currentPassword, newPassword string) error {
	var hash string
	err := s.db.QueryRow("SELECT password_hash FROM users WHERE id = ?", userID).Scan(&hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperr.NotFound("user not found")
		}
		return fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(currentPassword)); err != nil {
		return apperr.Forbidden("current password is incorrect")
	}
	if len(newPassword) < 6 {
		return apperr.InvalidArg("password must be at least 6 characters")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := s.db.Exec("UPDATE users SET password_hash = ? WHERE id = ?", string(newHash), userID); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// EnsureAdmin provisions the single administrator account if it is missing.
// Returns true when the account was created.
func (s *Service) EnsureAdmin(username, email, password string) (bool, error) {
	var existingID int
	err := s.db.QueryRow(
		"SELECT id FROM users WHERE username = ? AND is_admin = 1", username,
	).Scan(&existingID)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to query admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO users (username, email, password_hash, is_admin)
		VALUES (?, ?, ?, 1)
	`, username, email, string(hash))
	if err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}

	log.Printf("Admin user created: %s", username)
	return true, nil
}
