package keyring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
)

func newTestStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	store, err := NewFileStore(dir, "test-password")
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	return store
}

// TestFileStore_SetAndGet tests Set and Get operations.
func TestFileStore_SetAndGet(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name   string
		key    string
		secret string
	}{
		{
			name:   "influx token",
			key:    "influx",
			secret: "tok-123",
		},
		{
			name:   "dsn with special characters",
			key:    "pg/history",
			secret: "postgres://bench:p@$$w0rd!@db:5432/sched?sslmode=disable",
		},
		{
			name:   "long secret",
			key:    "long",
			secret: string(make([]byte, 1000)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Set(ctx, tt.key, tt.secret); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			got, err := store.Get(ctx, tt.key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != tt.secret {
				t.Errorf("Get() = %q, want %q", got, tt.secret)
			}
		})
	}
}

// TestFileStore_Get_NotFound tests Get with a missing name.
func TestFileStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	_, err := store.Get(context.Background(), "non-existent")
	if !IsNotFound(err) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// TestFileStore_Delete tests Delete operation.
func TestFileStore_Delete(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	if err := store.Set(ctx, "delete-test", "to-be-deleted"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Delete(ctx, "delete-test"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "delete-test"); !IsNotFound(err) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "delete-test"); !IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

// TestFileStore_Available tests Available method.
func TestFileStore_Available(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	if !store.Available(context.Background()) {
		t.Error("Available() = false, want true")
	}
}

// TestFileStore_Reopen tests that a second store with the same master
// password reads secrets and a different one cannot.
func TestFileStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if err := newTestStore(t, dir).Set(ctx, "influx", "tok-123"); err != nil {
		t.Fatal(err)
	}

	got, err := newTestStore(t, dir).Get(ctx, "influx")
	if err != nil || got != "tok-123" {
		t.Errorf("reopened Get() = %q, %v", got, err)
	}

	wrong, err := NewFileStore(dir, "other-password")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.Get(ctx, "influx"); err == nil || IsNotFound(err) {
		t.Errorf("Get() with wrong master password error = %v, want decrypt failure", err)
	}
}

// TestNewFileStore_Errors tests constructor validation.
func TestNewFileStore_Errors(t *testing.T) {
	if _, err := NewFileStore("", "pw"); err == nil {
		t.Error("NewFileStore() without dir should fail")
	}
	if _, err := NewFileStore(t.TempDir(), ""); err == nil {
		t.Error("NewFileStore() without master password should fail")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, saltFileName), []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(dir, "pw"); err == nil {
		t.Error("NewFileStore() with corrupt salt should fail")
	}
}

// TestResolve tests secret references in configuration values.
func TestResolve(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()
	if err := store.Set(ctx, "influx", "tok-123"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		p       Provider
		value   string
		want    string
		wantErr bool
	}{
		{"plain value", store, "literal-token", "literal-token", false},
		{"empty value", store, "", "", false},
		{"plain value without store", nil, "literal-token", "literal-token", false},
		{"reference", store, "secret:influx", "tok-123", false},
		{"missing reference", store, "secret:nope", "", true},
		{"empty name", store, "secret:", "", true},
		{"reference without store", nil, "secret:influx", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(ctx, tt.p, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestResolveConfig tests resolving the credential fields.
func TestResolveConfig(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()
	if err := store.Set(ctx, "pg", "postgres://u:p@db/sched"); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Storage.DSN = "secret:pg"
	cfg.Influx.Token = "plain"

	if err := ResolveConfig(ctx, store, cfg); err != nil {
		t.Fatalf("ResolveConfig() failed: %v", err)
	}
	if cfg.Storage.DSN != "postgres://u:p@db/sched" || cfg.Influx.Token != "plain" {
		t.Errorf("resolved = %q, %q", cfg.Storage.DSN, cfg.Influx.Token)
	}

	cfg.Influx.Token = "secret:missing"
	err := ResolveConfig(ctx, store, cfg)
	if err == nil || !IsNotFound(err) {
		t.Errorf("ResolveConfig() error = %v, want ErrNotFound", err)
	}

	cfg.Influx.Token = "secret:"
	if err := ResolveConfig(ctx, store, cfg); !errors.Is(err, config.ErrInvalidConfiguration) {
		t.Errorf("ResolveConfig() error = %v, want ErrInvalidConfiguration", err)
	}
}
