package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultProfile is the profile created on first run.
const DefaultProfile = "default"

// Bootstrap creates the default profile and API server config on first run.
// It is a no-op once any profile exists.
func (db *DB) Bootstrap(ctx context.Context) error {
	needed, err := db.NeedsBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to check profiles: %w", err)
	}
	if !needed {
		return nil
	}

	timezone := detectTimezone()
	err = db.Tx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (name, timezone, is_active)
			VALUES (?, ?, 1)
		`, DefaultProfile, timezone)
		if err != nil {
			return fmt.Errorf("failed to create default profile: %w", err)
		}

		profileID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get profile ID: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO api_servers (profile_id, host, port)
			VALUES (?, '0.0.0.0', 8080)
		`, profileID); err != nil {
			return fmt.Errorf("failed to create default API server: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("profile", DefaultProfile).Str("timezone", timezone).Msg("Created default configuration")
	return nil
}

// NeedsBootstrap returns true if the database needs initial setup.
func (db *DB) NeedsBootstrap(ctx context.Context) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// detectTimezone attempts to detect the system timezone.
func detectTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}

	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("systemsetup", "-gettimezone").Output()
		if err == nil {
			parts := strings.SplitN(string(out), ": ", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}

	case "linux":
		if data, err := os.ReadFile("/etc/timezone"); err == nil {
			if tz := strings.TrimSpace(string(data)); tz != "" {
				return tz
			}
		}
	}

	if link, err := os.Readlink("/etc/localtime"); err == nil {
		if idx := strings.Index(link, "zoneinfo/"); idx != -1 {
			return link[idx+len("zoneinfo/"):]
		}
	}

	return "UTC"
}
