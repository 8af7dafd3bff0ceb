package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/db"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
)

func openStore(t *testing.T, name string) *tablestore.SQLStore {
	t.Helper()
	d, err := db.Open(context.Background(), "file:"+name+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return tablestore.NewSQLStore(d)
}

func sampleOrder(id, date, address, city string) models.Order {
	created := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	return models.Order{
		ID:              id,
		Date:            date,
		Status:          models.OrderStatusPending,
		OrderType:       "Delivery",
		CustomerName:    "Jane Roe",
		CustomerPhone:   "5625550100",
		Address:         address,
		City:            city,
		ZipCode:         "90802",
		Items:           []string{"Hospital Bed", "Oxygen Concentrator"},
		TimeWindowStart: "9:00 AM",
		TimeWindowEnd:   "11:00 AM",
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestOrderRepository_ReplaceAndListRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(openStore(t, "orderroundtrip"), nil)

	a := sampleOrder("ORD-20240315-aaaa0001", "2024-03-15", "100 Main St", "Long Beach")
	a.Coordinates = &orb.Point{-118.19374, 33.77005}
	b := sampleOrder("ORD-20240315-bbbb0002", "2024-03-15", "200 Oak Ave", "Irvine")
	b.CreatedAt = b.CreatedAt.Add(time.Minute)
	b.Status = models.OrderStatusSentToDriver
	b.AssignedDriver = "Ahmed Ali"
	b.StopNumber = 2
	b.RouteID = "ROUTE-20240315-AHMED"

	if err := repo.ReplaceDate(ctx, "2024-03-15", []models.Order{b, a}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := repo.ListByDate(ctx, "2024-03-15")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("unexpected orders: %+v", got)
	}
	if got[0].Address != "100 Main St" || got[0].City != "Long Beach" || len(got[0].Items) != 2 {
		t.Fatalf("fields not preserved: %+v", got[0])
	}
	if got[0].Coordinates == nil || got[0].Coordinates.Lat() != 33.77005 {
		t.Fatalf("coordinates not preserved: %+v", got[0].Coordinates)
	}
	if !got[0].CreatedAt.Equal(a.CreatedAt) {
		t.Fatalf("created_at %v != %v", got[0].CreatedAt, a.CreatedAt)
	}
	if got[1].Status != models.OrderStatusSentToDriver || got[1].AssignedDriver != "Ahmed Ali" || got[1].StopNumber != 2 {
		t.Fatalf("assignment not preserved: %+v", got[1])
	}
}

func TestOrderRepository_ReplaceDateTwiceDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "ordernodup")
	repo := NewOrderRepository(store, nil)

	orders := []models.Order{
		sampleOrder("ORD-1", "2024-03-15", "100 Main St", "Long Beach"),
		sampleOrder("ORD-2", "2024-03-15", "200 Oak Ave", "Irvine"),
	}
	other := sampleOrder("ORD-0", "2024-03-14", "9 Elm St", "Tustin")
	if err := repo.ReplaceDate(ctx, "2024-03-14", []models.Order{other}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.ReplaceDate(ctx, "2024-03-15", orders); err != nil {
			t.Fatalf("replace %d: %v", i, err)
		}
	}
	sheet, err := store.ReadAll(ctx, tablestore.Orders)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sheet.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(sheet.Rows))
	}
	prev, err := repo.ListByDate(ctx, "2024-03-14")
	if err != nil || len(prev) != 1 || prev[0].ID != "ORD-0" {
		t.Fatalf("other date disturbed: %v %+v", err, prev)
	}
}

func TestOrderRepository_DuplicateIDsAreIdentityError(t *testing.T) {
	ctx := context.Background()
	store := tablestore.NewMemoryStore()
	repo := NewOrderRepository(store, nil)
	row := EncodeOrder(sampleOrder("ORD-1", "2024-03-15", "100 Main St", "Long Beach"))
	if err := store.OverwriteAll(ctx, tablestore.Orders, OrderColumns, [][]string{row, row}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := repo.ListByDate(ctx, "2024-03-15")
	var idErr *apperr.IdentityError
	if !errors.As(err, &idErr) || len(idErr.Duplicates) != 1 || idErr.Duplicates[0] != "ORD-1" {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func TestOrderRepository_LoadNormalizesHandEditedSheet(t *testing.T) {
	ctx := context.Background()
	store := tablestore.NewMemoryStore()
	repo := NewOrderRepository(store, nil)
	header := []string{"Order ID", " DATE", "Status", "Customer", "Address", "City", "Items", "", "Time Window"}
	rows := [][]string{
		{"ORD-7", "2024-03-15", "Sent To Driver", "Bob", "12 Pine Rd", "Carson", "Walker, Cane", "junk", "9:00 AM - 11:00 AM", "overflow"},
		{"ORD-8", "2024-03-15", "bogus"},
		{"", "2024-03-15", "pending", "no id"},
	}
	if err := store.OverwriteAll(ctx, tablestore.Orders, header, rows); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := repo.ListByDate(ctx, "2024-03-15")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(got))
	}
	byID := map[string]models.Order{}
	for _, o := range got {
		byID[o.ID] = o
	}
	o7 := byID["ORD-7"]
	if o7.Status != models.OrderStatusSentToDriver || o7.CustomerName != "Bob" {
		t.Fatalf("ORD-7 not normalized: %+v", o7)
	}
	if len(o7.Items) != 2 || o7.Items[1] != "Cane" {
		t.Fatalf("legacy comma items not split: %v", o7.Items)
	}
	if o7.TimeWindowStart != "9:00 AM" || o7.TimeWindowEnd != "11:00 AM" {
		t.Fatalf("time window not split: %q %q", o7.TimeWindowStart, o7.TimeWindowEnd)
	}
	if byID["ORD-8"].Status != models.OrderStatusPending {
		t.Fatalf("unknown status should read as pending, got %q", byID["ORD-8"].Status)
	}
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(openStore(t, "orderstatus"), nil)
	o := sampleOrder("ORD-1", "2024-03-15", "100 Main St", "Long Beach")
	if err := repo.ReplaceDate(ctx, o.Date, []models.Order{o}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "ORD-1", models.OrderStatusDelivered); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.List(ctx, OrderFilter{Statuses: []models.OrderStatus{models.OrderStatusDelivered}})
	if err != nil || len(got) != 1 || got[0].ID != "ORD-1" {
		t.Fatalf("filter by status: %v %+v", err, got)
	}
	if err := repo.UpdateStatus(ctx, "ORD-404", models.OrderStatusDelivered); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, "ORD-1", "lost"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOrderRepository_PersistenceErrorWrapsStoreFailure(t *testing.T) {
	store := tablestore.NewMemoryStore()
	outage := errors.New("503")
	store.FailWrites(outage)
	repo := NewOrderRepository(store, nil)
	err := repo.ReplaceDate(context.Background(), "2024-03-15", nil)
	if !errors.Is(err, apperr.ErrPersistence) || !errors.Is(err, outage) {
		t.Fatalf("expected persistence error wrapping outage, got %v", err)
	}
}

func TestOrderRepository_Dates(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(tablestore.NewMemoryStore(), nil)
	err := repo.ReplaceDates(ctx, map[string][]models.Order{
		"2024-03-14": {sampleOrder("ORD-1", "", "1 A St", "X")},
		"2024-03-15": {sampleOrder("ORD-2", "", "2 B St", "Y")},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	dates, err := repo.Dates(ctx)
	if err != nil || len(dates) != 2 || dates[0] != "2024-03-15" {
		t.Fatalf("dates: %v %v", err, dates)
	}
}

func TestSplitItems(t *testing.T) {
	cases := map[string]int{"": 0, "Bed": 1, "Bed | Walker": 2, "Bed, Walker, Cane": 1, " | Bed |": 1, `Bed \| rail`: 1}
	for in, want := range cases {
		if got := SplitItems(in); len(got) != want {
			t.Fatalf("SplitItems(%q) = %v, want %d items", in, got, want)
		}
	}
	legacy := map[string]int{"": 0, "Bed, Walker, Cane": 3, "Bed | Walker": 2, "Oxygen, 5L | Tubing": 2}
	for in, want := range legacy {
		if got := SplitItemList(in); len(got) != want {
			t.Fatalf("SplitItemList(%q) = %v, want %d items", in, got, want)
		}
	}
}

func TestOrderRepository_DatelessRowIsReplacedNotDuplicated(t *testing.T) {
	ctx := context.Background()
	store := tablestore.NewMemoryStore()
	header := []string{"order_id", "date", "created_at", "status", "address", "city"}
	if err := store.OverwriteAll(ctx, tablestore.Orders, header, [][]string{
		{"ORD-LEGACY", "", "2024-03-15T09:00:00Z", "pending", "100 Main St", "Long Beach"},
		{"ORD-OTHER", "2024-03-14", "2024-03-14T09:00:00Z", "delivered", "200 Oak Ave", "Irvine"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := NewOrderRepository(store, nil)

	loaded, err := repo.ListByDate(ctx, "2024-03-15")
	if err != nil || len(loaded) != 1 || loaded[0].Date != "2024-03-15" {
		t.Fatalf("first load: %v %+v", err, loaded)
	}
	if err := repo.ReplaceDate(ctx, "2024-03-15", loaded); err != nil {
		t.Fatalf("replace: %v", err)
	}
	sheet, err := store.ReadAll(ctx, tablestore.Orders)
	if err != nil || len(sheet.Rows) != 2 {
		t.Fatalf("rows after persist: %v %d", err, len(sheet.Rows))
	}
	again, err := repo.ListByDate(ctx, "2024-03-15")
	if err != nil || len(again) != 1 || again[0].ID != "ORD-LEGACY" {
		t.Fatalf("second load: %v %+v", err, again)
	}
}

func TestOrderRepository_ReplaceDatesNeverKeepsTwoRowsPerID(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(tablestore.NewMemoryStore(), nil)
	moved := sampleOrder("ORD-1", "2024-03-14", "1 A St", "X")
	if err := repo.ReplaceDate(ctx, "2024-03-14", []models.Order{moved}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := repo.ReplaceDate(ctx, "2024-03-15", []models.Order{moved}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	all, err := repo.ListByDate(ctx, "")
	if err != nil || len(all) != 1 || all[0].Date != "2024-03-15" {
		t.Fatalf("expected one row on the new date: %v %+v", err, all)
	}
}

func TestItems_RoundTrip(t *testing.T) {
	cases := [][]string{
		{"Oxygen concentrator, 5L"},
		{"Hospital Bed", "Bed rail | left"},
		{`Cane \ quad`, "Walker"},
	}
	for _, items := range cases {
		got := SplitItems(JoinItems(items))
		if len(got) != len(items) {
			t.Fatalf("items %q came back as %q", items, got)
		}
		for i := range items {
			if got[i] != items[i] {
				t.Fatalf("items %q came back as %q", items, got)
			}
		}
	}

	ctx := context.Background()
	repo := NewOrderRepository(tablestore.NewMemoryStore(), nil)
	o := sampleOrder("ORD-1", "2024-03-15", "1 A St", "X")
	o.Items = []string{"Oxygen concentrator, 5L"}
	if err := repo.ReplaceDate(ctx, "2024-03-15", []models.Order{o}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	loaded, err := repo.ListByDate(ctx, "2024-03-15")
	if err != nil || len(loaded) != 1 || len(loaded[0].Items) != 1 || loaded[0].Items[0] != "Oxygen concentrator, 5L" {
		t.Fatalf("stored %q, loaded %+v (%v)", o.Items, loaded, err)
	}
}

func TestDecodeOrder_HandKeptRowsUseCommaItems(t *testing.T) {
	o, err := DecodeOrder(map[string]string{"order_id": "ORD-1", "items": "Walker, Cane"})
	if err != nil || len(o.Items) != 2 {
		t.Fatalf("hand-kept row: %v %q", err, o.Items)
	}
	o, err = DecodeOrder(map[string]string{"order_id": "ORD-1", "items": "Walker, Cane", "updated_at": "2024-03-15T09:00:00Z"})
	if err != nil || len(o.Items) != 1 {
		t.Fatalf("encoded row: %v %q", err, o.Items)
	}
}
