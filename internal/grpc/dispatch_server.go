package grpcserver

import (
	"bytes"
	"context"
	"errors"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/auth"
	"dmeRoutePlanner/internal/dispatch"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

// Server exposes a dispatch.Service over gRPC. The principal name is the session user id.
type Server struct {
	Dispatch *dispatch.Service
	Log      *zap.Logger
}

// NewServer wires the gRPC handlers to svc.
func NewServer(svc *dispatch.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Dispatch: svc, Log: log}
}

var _ DispatchServer = (*Server)(nil)

// currentUser returns the caller's user id, activating its session on first use.
func (s *Server) currentUser(ctx context.Context) (string, error) {
	p, err := auth.RequireDispatcher(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.Dispatch.Session(p.Name); err == nil {
		return p.Name, nil
	}
	if _, err := s.Dispatch.Activate(ctx, p.Name); err != nil {
		return "", toStatus(err)
	}
	return p.Name, nil
}

func command(err error, okReason string) (*CommandResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &CommandResponse{Result: dispatch.Describe(nil, okReason)}, nil
}

// Activate opens the caller's session and reports how it was seeded.
func (s *Server) Activate(ctx context.Context, _ *Empty) (*ActivateResponse, error) {
	p, err := auth.RequireDispatcher(ctx)
	if err != nil {
		return nil, err
	}
	act, err := s.Dispatch.Activate(ctx, p.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	s.Log.Info("session activated", zap.String("user_id", p.Name), zap.String("day", act.Day), zap.Bool("restored", act.Restored))
	return &ActivateResponse{Activation: act}, nil
}

func (s *Server) Logout(ctx context.Context, _ *Empty) (*CommandResponse, error) {
	p, err := auth.RequireDispatcher(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.Logout(ctx, p.Name), "logged out")
}

// ListOrders returns orders filtered by date, status and driver. Dates other
// than the session day are read from the store.
func (s *Server) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	f := repository.OrderFilter{Date: req.Date, Driver: req.Driver}
	for _, raw := range req.Statuses {
		st, ok := models.ParseOrderStatus(raw)
		if !ok {
			return nil, toStatus(apperr.Invalid("statuses", "unknown status "+raw))
		}
		f.Statuses = append(f.Statuses, st)
	}
	orders, err := s.Dispatch.ListOrders(ctx, user, f)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

func (s *Server) AddOrder(ctx context.Context, req *AddOrderRequest) (*AddOrderResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.Dispatch.AddOrder(ctx, user, req.Order)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AddOrderResponse{OrderID: id}, nil
}

func (s *Server) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*CommandResponse, error) {
	if req.OrderID == "" {
		return nil, toStatus(apperr.Invalid("order_id", "required"))
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.UpdateOrder(ctx, user, req.OrderID, req.Field, req.Value), "order "+req.OrderID+" updated")
}

func (s *Server) DeleteOrders(ctx context.Context, req *DeleteOrdersRequest) (*DeleteOrdersResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	removed, missing, err := s.Dispatch.DeleteOrders(ctx, user, req.OrderIDs)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeleteOrdersResponse{Removed: removed, Missing: missing}, nil
}

func (s *Server) ImportFile(ctx context.Context, req *ImportFileRequest) (*ImportResponse, error) {
	if len(req.Content) == 0 {
		return nil, toStatus(apperr.Invalid("content", "empty file"))
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.Dispatch.ImportFile(ctx, user, req.FileName, bytes.NewReader(req.Content))
	if err != nil {
		return nil, toStatus(err)
	}
	return &ImportResponse{Created: res.Created, Rejected: res.Rejected}, nil
}

func (s *Server) ParseOrders(ctx context.Context, req *ParseOrdersRequest) (*ImportResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.Dispatch.ParseOrdersText(ctx, user, req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ImportResponse{Created: res.Created, Rejected: res.Rejected}, nil
}

func (s *Server) ListDrivers(ctx context.Context, _ *Empty) (*ListDriversResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	drivers, err := s.Dispatch.ListDrivers(ctx, user)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListDriversResponse{Drivers: drivers}, nil
}

// SelectDrivers replaces the selection and returns the selected drivers.
func (s *Server) SelectDrivers(ctx context.Context, req *SelectDriversRequest) (*ListDriversResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	drivers, err := s.Dispatch.SelectDrivers(ctx, user, req.DriverIDs)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListDriversResponse{Drivers: drivers}, nil
}

func (s *Server) ConfigureDriver(ctx context.Context, req *ConfigureDriverRequest) (*CommandResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.ConfigureDriver(ctx, user, req.DriverID, req.StartTime, req.StartLocation), "driver "+req.DriverID+" configured")
}

// AddDriver changes the shared driver list, so it needs a manager.
func (s *Server) AddDriver(ctx context.Context, req *AddDriverRequest) (*AddDriverResponse, error) {
	if _, err := auth.RequireManager(ctx); err != nil {
		return nil, err
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.Dispatch.AddDriver(ctx, user, req.Driver)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AddDriverResponse{DriverID: id}, nil
}

// SetDriverStatus activates or deactivates a stored driver; it needs a manager.
func (s *Server) SetDriverStatus(ctx context.Context, req *SetDriverStatusRequest) (*SetDriverStatusResponse, error) {
	if req.DriverID == "" {
		return nil, toStatus(apperr.Invalid("driver_id", "required"))
	}
	if _, err := auth.RequireManager(ctx); err != nil {
		return nil, err
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.Dispatch.SetDriverStatus(ctx, user, req.DriverID, req.Active)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SetDriverStatusResponse{Driver: d}, nil
}

func optimization(out *dispatch.RunOutcome, err error) (*OptimizationResponse, error) {
	if errors.Is(err, apperr.ErrConflict) && out != nil {
		return &OptimizationResponse{Result: dispatch.Describe(err, ""), Outcome: out}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &OptimizationResponse{Result: dispatch.Describe(nil, "routes applied"), Outcome: out}, nil
}

// RunOptimization routes the open orders over the selected drivers. Conflicts
// are returned in the response rather than as an error so the caller can confirm.
func (s *Server) RunOptimization(ctx context.Context, _ *Empty) (*OptimizationResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return optimization(s.Dispatch.RunOptimization(ctx, user))
}

func (s *Server) ConfirmOptimization(ctx context.Context, _ *Empty) (*OptimizationResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return optimization(s.Dispatch.ConfirmOptimization(ctx, user))
}

func (s *Server) DiscardOptimization(ctx context.Context, _ *Empty) (*CommandResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.DiscardOptimization(ctx, user), "pending result discarded")
}

func (s *Server) ListRoutes(ctx context.Context, _ *Empty) (*ListRoutesResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	routes, err := s.Dispatch.ListRoutes(user)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListRoutesResponse{Routes: routes}, nil
}

func (s *Server) ForceAssign(ctx context.Context, req *ForceAssignRequest) (*CommandResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.ForceAssign(ctx, user, req.OrderID, req.DriverName), "order "+req.OrderID+" sent to "+req.DriverName)
}

func (s *Server) MarkDelivered(ctx context.Context, req *CloseOrderRequest) (*CommandResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.MarkDelivered(ctx, user, req.OrderID), "order "+req.OrderID+" delivered")
}

func (s *Server) MarkFailed(ctx context.Context, req *CloseOrderRequest) (*CommandResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.MarkFailed(ctx, user, req.OrderID), "order "+req.OrderID+" failed")
}

func (s *Server) SyncToStore(ctx context.Context, _ *Empty) (*CommandResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return command(s.Dispatch.SyncToStore(ctx, user), "synced")
}

// AdvanceDay runs the day-change check now; Rollover is nil when the day is unchanged.
func (s *Server) AdvanceDay(ctx context.Context, _ *Empty) (*AdvanceDayResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	roll, err := s.Dispatch.AdvanceDay(ctx, user)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AdvanceDayResponse{Rollover: roll}, nil
}

// History returns stored orders and routes per day, newest first.
func (s *Server) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	days, err := s.Dispatch.History(ctx, user, req.From, req.To)
	if err != nil {
		return nil, toStatus(err)
	}
	return &HistoryResponse{Days: days}, nil
}
