package repository

import (
	"context"
	"errors"
	"testing"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
)

func TestDriverRepository_CreateAndQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewDriverRepository(openStore(t, "driverrepo"), nil)

	a, err := repo.Create(ctx, models.Driver{Name: "Ahmed Ali", Phone: "7608791071", StartLocation: "Irvine Office"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID != "DRV-001" || a.Status != models.DriverStatusActive {
		t.Fatalf("unexpected created driver: %+v", a)
	}
	b, err := repo.Create(ctx, models.Driver{Name: "Mohammed Hassan", Status: models.DriverStatusInactive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID != "DRV-002" {
		t.Fatalf("expected DRV-002, got %s", b.ID)
	}

	g, err := repo.GetByID(ctx, "DRV-001")
	if err != nil || g == nil || g.Name != "Ahmed Ali" || g.StartLocation != "Irvine Office" {
		t.Fatalf("get by id: %v %+v", err, g)
	}
	n, err := repo.GetByName(ctx, "mohammed hassan")
	if err != nil || n == nil || n.ID != "DRV-002" {
		t.Fatalf("get by name: %v %+v", err, n)
	}
	missing, err := repo.GetByID(ctx, "DRV-404")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing driver, got %+v err=%v", missing, err)
	}

	if err := repo.UpdateStatus(ctx, "DRV-002", models.DriverStatusActive); err != nil {
		t.Fatalf("update status: %v", err)
	}
	all, err := repo.List(ctx)
	if err != nil || len(all) != 2 || !all[1].IsActive() {
		t.Fatalf("list after update: %v %+v", err, all)
	}
	if err := repo.UpdateStatus(ctx, "DRV-404", models.DriverStatusActive); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDriverRepository_CreateRequiresName(t *testing.T) {
	repo := NewDriverRepository(tablestore.NewMemoryStore(), nil)
	_, err := repo.Create(context.Background(), models.Driver{Name: "  "})
	var vErr *apperr.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "driver_name" {
		t.Fatalf("expected validation error on driver_name, got %v", err)
	}
}

func TestNextDriverID_UsesMaxNotCount(t *testing.T) {
	got := NextDriverID([]models.Driver{{ID: "DRV-001"}, {ID: "DRV-007"}, {ID: "legacy"}})
	if got != "DRV-008" {
		t.Fatalf("NextDriverID = %s, want DRV-008", got)
	}
	if got := NextDriverID(nil); got != "DRV-001" {
		t.Fatalf("NextDriverID(nil) = %s", got)
	}
}
