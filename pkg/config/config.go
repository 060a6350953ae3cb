package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	Environment   string
	DatabasePath  string
	JWTSecret     string
	CORSOrigins   string
	MaxUploadSize int64

	// Admin bootstrap seed. The password is a deployment input; when left
	// empty the server generates one at first startup and logs it once.
	AdminUsername string
	AdminEmail    string
	AdminPassword string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

func Load() *Config {
	// godotenv never overrides variables already present in the environment,
	// so real env vars win over the file.
	if envFile, ok := os.LookupEnv("KIRIM_ENV_FILE"); ok && envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		DatabasePath:  getEnv("DATABASE_PATH", "./data/kirim.db"),
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:   getEnv("CORS_ORIGINS", "*"),
		MaxUploadSize: parseInt64(getEnv("MAX_UPLOAD_SIZE", "16777216")), // 16MB default

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@localhost"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "chat_app"),

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 16777216 // 16MB default
	}
	return val
}
