package repository

import (
	"context"

	"dmeRoutePlanner/models"
)

// OrderRepositoryI defines persistence of orders per operating day.
type OrderRepositoryI interface {
	ListByDate(ctx context.Context, date string) ([]models.Order, error)
	List(ctx context.Context, f OrderFilter) ([]models.Order, error)
	Dates(ctx context.Context) ([]string, error)
	ReplaceDate(ctx context.Context, date string, orders []models.Order) error
	ReplaceDates(ctx context.Context, byDate map[string][]models.Order) error
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error
}

// DriverRepositoryI defines operations on Driver entities.
type DriverRepositoryI interface {
	List(ctx context.Context) ([]models.Driver, error)
	GetByID(ctx context.Context, id string) (*models.Driver, error)
	GetByName(ctx context.Context, name string) (*models.Driver, error)
	Create(ctx context.Context, d models.Driver) (models.Driver, error)
	UpdateStatus(ctx context.Context, id string, status models.DriverStatus) error
}

// RouteRepositoryI defines the route history.
type RouteRepositoryI interface {
	ListByDate(ctx context.Context, date string) ([]models.Route, error)
	ReplaceDate(ctx context.Context, date string, routes []models.Route) error
}

var (
	_ OrderRepositoryI  = (*OrderRepository)(nil)
	_ DriverRepositoryI = (*DriverRepository)(nil)
	_ RouteRepositoryI  = (*RouteRepository)(nil)
)
