package grpcserver

import (
	"dmeRoutePlanner/internal/dispatch"
	"dmeRoutePlanner/internal/intake"
	"dmeRoutePlanner/internal/session"
	"dmeRoutePlanner/models"
)

// Empty is the request of calls that take no arguments.
type Empty struct{}

// CommandResponse reports a command that returns nothing but its outcome.
type CommandResponse struct {
	Result dispatch.Result `json:"result"`
}

type ActivateResponse struct {
	Activation *dispatch.Activation `json:"activation"`
}

type ListOrdersRequest struct {
	Date     string   `json:"date,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
	Driver   string   `json:"driver,omitempty"`
}

type ListOrdersResponse struct {
	Orders []models.Order `json:"orders"`
}

type AddOrderRequest struct {
	Order models.OrderInput `json:"order"`
}

type AddOrderResponse struct {
	OrderID string `json:"order_id"`
}

type UpdateOrderRequest struct {
	OrderID string `json:"order_id"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

type DeleteOrdersRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type DeleteOrdersResponse struct {
	Removed []string `json:"removed"`
	Missing []string `json:"missing,omitempty"`
}

// ImportFileRequest carries a whole spreadsheet; the extension of FileName picks the format.
type ImportFileRequest struct {
	FileName string `json:"file_name"`
	Content  []byte `json:"content"`
}

type ParseOrdersRequest struct {
	Text string `json:"text"`
}

type ImportResponse struct {
	Created  []string          `json:"created"`
	Rejected []intake.RowError `json:"rejected,omitempty"`
}

type ListDriversResponse struct {
	Drivers []models.Driver `json:"drivers"`
}

type SelectDriversRequest struct {
	DriverIDs []string `json:"driver_ids"`
}

type ConfigureDriverRequest struct {
	DriverID      string `json:"driver_id"`
	StartTime     string `json:"start_time,omitempty"`
	StartLocation string `json:"start_location,omitempty"`
}

type AddDriverRequest struct {
	Driver models.Driver `json:"driver"`
}

type AddDriverResponse struct {
	DriverID string `json:"driver_id"`
}

type SetDriverStatusRequest struct {
	DriverID string `json:"driver_id"`
	Active   bool   `json:"active"`
}

type SetDriverStatusResponse struct {
	Driver models.Driver `json:"driver"`
}

// OptimizationResponse carries a run's outcome. A run blocked by conflicts
// comes back with Result.OK false, Result.Kind "conflict" and Outcome.Conflicts set.
type OptimizationResponse struct {
	Result  dispatch.Result      `json:"result"`
	Outcome *dispatch.RunOutcome `json:"outcome,omitempty"`
}

type ListRoutesResponse struct {
	Routes []models.Route `json:"routes"`
}

type ForceAssignRequest struct {
	OrderID    string `json:"order_id"`
	DriverName string `json:"driver_name"`
}

type CloseOrderRequest struct {
	OrderID string `json:"order_id"`
}

// HistoryRequest bounds a history read by operating day (YYYY-MM-DD); empty bounds are open.
type HistoryRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type HistoryResponse struct {
	Days []dispatch.HistoryDay `json:"days"`
}

type AdvanceDayResponse struct {
	Rollover *session.Rollover `json:"rollover,omitempty"`
}
