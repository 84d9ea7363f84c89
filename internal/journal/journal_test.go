package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fora-knx-bridge/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestPassLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id, err := repo.BeginPass(ctx, "startup", "10.0.0.7")
	if err != nil {
		t.Fatalf("BeginPass() error = %v", err)
	}

	passes, err := repo.ListPasses(ctx, 0)
	if err != nil {
		t.Fatalf("ListPasses() error = %v", err)
	}
	if len(passes) != 1 || passes[0].FinishedAt != nil || passes[0].Gateway != "10.0.0.7" {
		t.Fatalf("passes before finish = %+v", passes)
	}

	if err := repo.FinishPass(ctx, id, 3, 1, ""); err != nil {
		t.Fatalf("FinishPass() error = %v", err)
	}
	passes, _ = repo.ListPasses(ctx, 10)
	if passes[0].FinishedAt == nil || passes[0].Devices != 3 || passes[0].Failed != 1 {
		t.Errorf("pass after finish = %+v", passes[0])
	}

	if err := repo.FinishPass(ctx, id+100, 0, 0, ""); !errors.Is(err, ErrPassNotFound) {
		t.Errorf("FinishPass(unknown) error = %v, want ErrPassNotFound", err)
	}
}

func TestListPassesNewestFirst(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	first, _ := repo.BeginPass(ctx, "startup", "")
	second, _ := repo.BeginPass(ctx, "notify", "")

	passes, err := repo.ListPasses(ctx, 1)
	if err != nil {
		t.Fatalf("ListPasses() error = %v", err)
	}
	if len(passes) != 1 || passes[0].ID != second || passes[0].ID == first {
		t.Errorf("ListPasses(1) = %+v", passes)
	}
}

func TestDeviceRecords(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	p1, _ := repo.BeginPass(ctx, "startup", "")
	p2, _ := repo.BeginPass(ctx, "notify", "")

	records := []DeviceRecord{
		{PassID: p1, DeviceID: "dev-1", DeviceType: "binarySwitch", State: "bindings_active", Datapoints: 1, Bindings: 3},
		{PassID: p1, DeviceID: "dev-2", DeviceType: "toaster", State: "failed", Error: "unknown device type"},
		{PassID: p2, DeviceID: "dev-1", DeviceType: "binarySwitch", State: "failed", Error: "fieldbus not connected"},
	}
	for _, rec := range records {
		if err := repo.RecordDevice(ctx, rec); err != nil {
			t.Fatalf("RecordDevice() error = %v", err)
		}
	}

	inPass, err := repo.PassDevices(ctx, p1)
	if err != nil {
		t.Fatalf("PassDevices() error = %v", err)
	}
	if len(inPass) != 2 || inPass[0].DeviceID != "dev-1" || inPass[1].Error != "unknown device type" {
		t.Errorf("PassDevices() = %+v", inPass)
	}
	if inPass[0].RecordedAt.IsZero() || inPass[0].Bindings != 3 {
		t.Errorf("record = %+v", inPass[0])
	}

	history, err := repo.DeviceHistory(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("DeviceHistory() error = %v", err)
	}
	if len(history) != 2 || history[0].PassID != p2 {
		t.Errorf("DeviceHistory() = %+v", history)
	}
}

func TestCreations(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	pass, _ := repo.BeginPass(ctx, "startup", "")

	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	if err := repo.RecordCreation(ctx, Creation{PassID: pass, DeviceID: "dev-1", DatapointID: "dp-1", Name: "power", CreatedAt: at}); err != nil {
		t.Fatalf("RecordCreation() error = %v", err)
	}
	if err := repo.RecordCreation(ctx, Creation{PassID: pass, DeviceID: "dev-1", DatapointID: "dp-2", Name: "brightness"}); err != nil {
		t.Fatalf("RecordCreation() error = %v", err)
	}

	creations, err := repo.ListCreations(ctx, 0)
	if err != nil {
		t.Fatalf("ListCreations() error = %v", err)
	}
	if len(creations) != 2 || creations[0].Name != "brightness" || !creations[1].CreatedAt.Equal(at) {
		t.Errorf("ListCreations() = %+v", creations)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, defaultLimit},
		{-3, defaultLimit},
		{10, 10},
		{maxLimit + 1, maxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
