package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/kirimapp/kirim/internal/auth"
	"github.com/kirimapp/kirim/internal/chat"
	"github.com/kirimapp/kirim/internal/db"
	"github.com/kirimapp/kirim/internal/handlers"
	"github.com/kirimapp/kirim/internal/media"
	"github.com/kirimapp/kirim/internal/push"
	"github.com/kirimapp/kirim/internal/users"
	"github.com/kirimapp/kirim/pkg/config"
	"github.com/kirimapp/kirim/pkg/i18n"
)

func __(message string) string {
	return i18n.Translate(message)
}

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("rate limiter error")})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": __("rate limit exceeded")})
			c.Abort()
			return
		}

		c.Next()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func serverErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Printf(
				"HTTP %d %s %s ip=%s duration=%s errors=%q response=%q",
				c.Writer.Status(),
				c.Request.Method,
				c.Request.URL.Path,
				c.ClientIP(),
				time.Since(start).Truncate(time.Millisecond),
				c.Errors.ByType(gin.ErrorTypeAny).String(),
				strings.TrimSpace(blw.body.String()),
			)
		}
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf(
			"panic recovered method=%s path=%s ip=%s error=%v\n%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			recovered,
			debug.Stack(),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
	})
}

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "migrate":
		return runMigrate(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  kirim                         Start the web server")
	fmt.Fprintln(out, "  kirim status                  Show application statistics")
	fmt.Fprintln(out, "  kirim status --json")
	fmt.Fprintln(out, "  kirim migrate social-links    Move legacy JSON social links to the social_links table")
	fmt.Fprintln(out, "  kirim migrate social-links --dry-run")
}

// seedAdmin ensures the configured admin account exists. When no password is
// configured a random one is generated and logged exactly once, at the
// startup that created the account.
func seedAdmin(authSvc *auth.Service, cfg *config.Config) error {
	password := cfg.AdminPassword
	generated := false
	if password == "" {
		raw := make([]byte, 12)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("failed to generate admin password: %w", err)
		}
		password = hex.EncodeToString(raw)
		generated = true
	}

	created, err := authSvc.EnsureAdmin(cfg.AdminUsername, cfg.AdminEmail, password)
	if err != nil {
		return fmt.Errorf("failed to seed admin account: %w", err)
	}
	if created && generated {
		log.Printf("Created admin account %q with generated password: %s", cfg.AdminUsername, password)
		log.Printf("Set ADMIN_PASSWORD to control this, and change the password after first login.")
	} else if created {
		log.Printf("Created admin account %q", cfg.AdminUsername)
	}
	return nil
}

func runServer(cfg *config.Config) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "" && dir != "." {
		os.MkdirAll(dir, 0755)
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	conn := database.GetConn()

	if pending, err := legacySocialLinksPending(conn); err == nil && pending {
		log.Printf("Warning: legacy users.social_links column detected, run `kirim migrate social-links`")
	}

	// Initialize services
	authSvc := auth.New(conn, cfg.JWTSecret)
	userSvc := users.New(conn)
	mediaStore := media.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	chatSvc := chat.New(conn, mediaStore, cfg.CloudinaryFolder)
	notifier := push.NewNotifier(conn, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)

	if !mediaStore.Enabled() {
		log.Printf("Warning: Cloudinary credentials not configured, media uploads will fail")
	}
	if notifier == nil {
		log.Printf("Warning: VAPID keys not configured, push notifications disabled")
	}

	if err := seedAdmin(authSvc, cfg); err != nil {
		return err
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authSvc, userSvc)
	msgHandler := handlers.NewMessageHandler(chatSvc, notifier, cfg.MaxUploadSize)
	profileHandler := handlers.NewProfileHandler(userSvc, authSvc, mediaStore)
	adminHandler := handlers.NewAdminHandler(userSvc)
	pushHandler := handlers.NewPushHandler(notifier)

	// Setup router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery())
	router.MaxMultipartMemory = cfg.MaxUploadSize

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Public endpoints
	api := router.Group("/api")
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
		registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

		api.POST("/auth/register", rateLimitMiddleware(registerLimiter), authHandler.Register)
		api.POST("/auth/login", rateLimitMiddleware(loginLimiter), authHandler.Login)
	}

	// Protected endpoints
	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		// Messaging
		protected.GET("/chat/:user_id", msgHandler.GetChat)
		protected.GET("/get_messages/:user_id", msgHandler.GetMessages)
		protected.POST("/send_message", msgHandler.SendMessage)
		protected.POST("/delete_message/:id", msgHandler.DeleteMessage)

		// Counterparts and profiles
		protected.GET("/users", msgHandler.ListUsers)
		protected.GET("/users/:id", profileHandler.GetUserProfile)
		protected.GET("/profile", profileHandler.GetMyProfile)
		protected.PUT("/profile", profileHandler.UpdateProfile)
		protected.PUT("/profile/password", profileHandler.ChangePassword)

		// Web Push
		protected.GET("/push/key", pushHandler.Key)
		protected.POST("/push/subscribe", pushHandler.Subscribe)
		protected.DELETE("/push/subscribe", pushHandler.Unsubscribe)
	}

	// Admin endpoints
	admin := protected.Group("/admin")
	admin.Use(authHandler.AdminMiddleware())
	{
		admin.GET("/stats", adminHandler.Stats)
		admin.POST("/users/:id/toggle_block", adminHandler.ToggleBlock)
		admin.POST("/users/:id/toggle_active", adminHandler.ToggleActive)
		admin.DELETE("/users/:id", adminHandler.DeleteUser)
		admin.POST("/messages/purge", adminHandler.PurgeMessages)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": __("not found")})
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	log.Printf("Starting server on %s", addr)

	// Setup graceful shutdown
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigint
		log.Println("\nShutting down gracefully...")
		os.Exit(0)
	}()

	if err := router.Run(addr); err != nil {
		return err
	}

	return nil
}
