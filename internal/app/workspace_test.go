package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dailyrise/internal/config"
	"dailyrise/internal/db"
)

func TestOpenCreatesDatabaseWithDefaults(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()
	if _, err := os.Stat(db.Path(dir)); err != nil {
		t.Fatalf("database not created: %v", err)
	}
	if w.Config.Points.ChallengeWin != config.Default().Points.ChallengeWin {
		t.Fatalf("expected default config, got %+v", w.Config.Points)
	}
	if _, err := w.Engine.CreateHabit(context.Background(), "alice", "Run"); err != nil {
		t.Fatalf("engine not usable: %v", err)
	}
}

func TestOpenReadsConfigAndSecretOverride(t *testing.T) {
	dir := t.TempDir()
	yml := "points:\n  challenge_win: 25\nalarm:\n  countdown: 30s\nauth:\n  jwt_secret: from-file\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(JWTSecretEnv, "from-env")

	w, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()
	if w.Config.Points.ChallengeWin != 25 || w.Config.Alarm.Countdown != 30*time.Second {
		t.Fatalf("config file ignored: %+v", w.Config)
	}
	if w.Config.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", w.Config.Auth.JWTSecret)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte("points:\n  challenge_win: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if w, err := Open(context.Background(), dir); err == nil {
		w.Close()
		t.Fatalf("expected validation error")
	}
}
