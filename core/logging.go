package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// SetupLogging configures log output to both stdout and an append-only file in cfg.LogDir.
// Caller should close the returned io.Closer on shutdown.
func SetupLogging(cfg Config, filename string) (io.Closer, error) {
	dir := cfg.LogDir
	if dir == "" {
		dir = "./logs"
	}
	if filename == "" {
		filename = "app.log"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	mw := io.MultiWriter(os.Stdout, f)
	log.SetOutput(mw)
	log.SetFlags(log.LstdFlags | log.LUTC)
	gin.DefaultWriter = mw
	gin.DefaultErrorWriter = mw
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	return f, nil
}

// WarnInsecureDefaults logs deployment risks that are tolerated outside production.
func WarnInsecureDefaults(cfg Config) {
	if cfg.JWTSecret == DefaultJWTSecret {
		log.Printf("WARNING: JWT_SECRET is the development placeholder; set a real secret before deploying")
	}
	if cfg.SessionKey == DefaultSessionKey {
		log.Printf("WARNING: SESSION_KEY is the development placeholder; set a real key before deploying")
	}
	if !cfg.CookieSecure {
		log.Printf("WARNING: cookies are issued without the Secure flag")
	}
}
