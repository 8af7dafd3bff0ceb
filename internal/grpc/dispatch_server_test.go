package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/dispatch"
	"dmeRoutePlanner/internal/session"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/internal/testutil"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

const testSecret = "grpc-test-secret"

type optimizerFunc func(ctx context.Context, orders []models.Order, drivers []models.Driver) (*models.OptimizationResult, error)

func (f optimizerFunc) Optimize(ctx context.Context, orders []models.Order, drivers []models.Driver) (*models.OptimizationResult, error) {
	return f(ctx, orders, drivers)
}

func routeAll(driver string) optimizerFunc {
	return func(_ context.Context, orders []models.Order, _ []models.Driver) (*models.OptimizationResult, error) {
		r := models.Route{DriverName: driver, Date: orders[0].Date, ID: repository.RouteID(orders[0].Date, driver)}
		for i, o := range orders {
			r.Stops = append(r.Stops, models.Stop{StopNumber: i + 1, OrderID: o.ID, Address: o.Address})
		}
		return &models.OptimizationResult{Routes: map[string]models.Route{driver: r}}, nil
	}
}

type env struct {
	ctx    context.Context
	orders *repository.OrderRepository
	opt    optimizerFunc
	conn   *grpc.ClientConn
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	mem := tablestore.NewMemoryStore()
	e := &env{
		ctx:    ctx,
		orders: repository.NewOrderRepository(mem, nil),
		opt:    routeAll("DriverX"),
	}
	drivers := repository.NewDriverRepository(mem, nil)
	for _, name := range []string{"DriverX", "DriverY"} {
		_, err := drivers.Create(ctx, models.Driver{Name: name})
		require.NoError(t, err)
	}
	cache, err := session.NewFileCache(t.TempDir())
	require.NoError(t, err)
	clock := testutil.NewClock(time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC))
	svc := dispatch.NewService(dispatch.Deps{
		Orders:  e.orders,
		Drivers: drivers,
		Routes:  repository.NewRouteRepository(mem, nil),
		Optimizer: optimizerFunc(func(ctx context.Context, o []models.Order, d []models.Driver) (*models.OptimizationResult, error) {
			return e.opt(ctx, o, d)
		}),
		Lifecycle: session.New(session.Config{Location: time.UTC}, cache, nil, nil, session.WithClock(clock.Now)),
	})

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(testSecret, NewServer(svc, nil), nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	e.conn = conn
	return e
}

func (e *env) client(t *testing.T, name, kind string) *Client {
	return NewClient(e.conn, testutil.GenerateJWTHS256(t, testSecret, name, kind))
}

func TestDispatchOverGRPC_RunConfirmClose(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "alice", "dispatcher")

	act, err := c.Activate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", act.Activation.Day)

	first, err := c.AddOrder(e.ctx, &AddOrderRequest{Order: models.OrderInput{Address: "12 Oak St", City: "Irvine"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.OrderID, "ORD-20240315-"))

	_, err = c.SelectDrivers(e.ctx, &SelectDriversRequest{DriverIDs: []string{"DRV-001", "DRV-002"}})
	require.NoError(t, err)

	run, err := c.RunOptimization(e.ctx)
	require.NoError(t, err)
	require.True(t, run.Result.OK, run.Result.Reason)

	sent, err := c.ListOrders(e.ctx, &ListOrdersRequest{Statuses: []string{"Sent To Driver"}})
	require.NoError(t, err)
	require.Len(t, sent.Orders, 1)
	assert.Equal(t, "DriverX", sent.Orders[0].AssignedDriver)

	_, err = c.AddOrder(e.ctx, &AddOrderRequest{Order: models.OrderInput{Address: "34 Elm Ave", City: "Tustin"}})
	require.NoError(t, err)
	e.opt = routeAll("DriverY")

	blocked, err := c.RunOptimization(e.ctx)
	require.NoError(t, err)
	assert.False(t, blocked.Result.OK)
	assert.Equal(t, "conflict", blocked.Result.Kind)
	require.Len(t, blocked.Outcome.Conflicts, 1)
	assert.Equal(t, first.OrderID, blocked.Outcome.Conflicts[0].OrderID)

	still, err := c.ListOrders(e.ctx, &ListOrdersRequest{Driver: "DriverX"})
	require.NoError(t, err)
	assert.Len(t, still.Orders, 1, "nothing moves until confirmed")

	confirmed, err := c.ConfirmOptimization(e.ctx)
	require.NoError(t, err)
	assert.True(t, confirmed.Result.OK)

	routes, err := c.ListRoutes(e.ctx)
	require.NoError(t, err)
	require.Len(t, routes.Routes, 1)
	assert.Equal(t, "DriverY", routes.Routes[0].DriverName)

	_, err = c.MarkDelivered(e.ctx, first.OrderID)
	require.NoError(t, err)
	_, err = c.SyncToStore(e.ctx)
	require.NoError(t, err)

	stored, err := e.orders.ListByDate(e.ctx, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, o := range stored {
		assert.Equal(t, "DriverY", o.AssignedDriver)
		if o.ID == first.OrderID {
			assert.Equal(t, models.OrderStatusDelivered, o.Status)
		}
	}
}

func TestDispatchOverGRPC_AuthAndErrorCodes(t *testing.T) {
	e := newEnv(t)

	anon := NewClient(e.conn, "")
	_, err := anon.ListOrders(e.ctx, &ListOrdersRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	health, err := healthpb.NewHealthClient(e.conn).Check(e.ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.Status)

	c := e.client(t, "bob", "dispatcher")
	_, err = c.AddDriver(e.ctx, &AddDriverRequest{Driver: models.Driver{Name: "DriverZ"}})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	m := e.client(t, "mia", "manager")
	added, err := m.AddDriver(e.ctx, &AddDriverRequest{Driver: models.Driver{Name: "DriverZ"}})
	require.NoError(t, err)
	assert.Equal(t, "DRV-003", added.DriverID)

	_, err = c.AddOrder(e.ctx, &AddOrderRequest{Order: models.OrderInput{Address: "Oak", City: "Irvine"}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.UpdateOrder(e.ctx, &UpdateOrderRequest{OrderID: "ORD-20240315-deadbeef", Field: "city", Value: "Anaheim"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.DeleteOrders(e.ctx, &DeleteOrdersRequest{OrderIDs: []string{"ORD-20240315-deadbeef"}})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.ListOrders(e.ctx, &ListOrdersRequest{Statuses: []string{"lost"}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.RunOptimization(e.ctx)
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "no open orders")
}

func TestDispatchOverGRPC_ImportFile(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "carol", "admin")

	csv := "Address,City,Customer Name\n12 Oak St,Irvine,Ann\nOak,Irvine,Bo\n"
	res, err := c.ImportFile(e.ctx, &ImportFileRequest{FileName: "orders.csv", Content: []byte(csv)})
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 3, res.Rejected[0].Line)

	_, err = c.ImportFile(e.ctx, &ImportFileRequest{FileName: "orders.pdf", Content: []byte("x")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDispatchOverGRPC_PastDaysAndDriverStatus(t *testing.T) {
	e := newEnv(t)
	past := models.Order{ID: "ORD-20240314-0000abcd", Date: "2024-03-14", Status: models.OrderStatusDelivered, Address: "9 Elm St", City: "Carson"}
	require.NoError(t, e.orders.ReplaceDate(e.ctx, "2024-03-14", []models.Order{past}))

	c := e.client(t, "dana", "dispatcher")
	_, err := c.AddOrder(e.ctx, &AddOrderRequest{Order: models.OrderInput{Address: "12 Oak St", City: "Irvine"}})
	require.NoError(t, err)

	old, err := c.ListOrders(e.ctx, &ListOrdersRequest{Date: "2024-03-14"})
	require.NoError(t, err)
	require.Len(t, old.Orders, 1)
	assert.Equal(t, past.ID, old.Orders[0].ID)

	hist, err := c.History(e.ctx, "2024-03-01", "2024-03-14")
	require.NoError(t, err)
	require.Len(t, hist.Days, 1)
	assert.Equal(t, 1, hist.Days[0].Summary.Delivered)

	_, err = c.History(e.ctx, "2024-03-14", "2024-03-01")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.SetDriverStatus(e.ctx, "DRV-002", false)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	m := e.client(t, "mia", "manager")
	res, err := m.SetDriverStatus(e.ctx, "DRV-002", false)
	require.NoError(t, err)
	assert.Equal(t, models.DriverStatusInactive, res.Driver.Status)
	active, err := m.ListDrivers(e.ctx)
	require.NoError(t, err)
	require.Len(t, active.Drivers, 1)
	assert.Equal(t, "DriverX", active.Drivers[0].Name)

	_, err = m.SetDriverStatus(e.ctx, "DRV-404", true)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{apperr.Invalid("city", "required"), codes.InvalidArgument},
		{&apperr.NotFoundError{Kind: "order", ID: "x"}, codes.NotFound},
		{&apperr.NotFoundError{Kind: "session", ID: "x"}, codes.FailedPrecondition},
		{&apperr.ConflictError{}, codes.Aborted},
		{&apperr.IdentityError{}, codes.DataLoss},
		{&apperr.OptimizationError{Err: errors.New("down")}, codes.Unavailable},
		{&apperr.PersistenceError{Op: "write", Err: errors.New("disk")}, codes.Unavailable},
		{status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Code(toStatus(tc.err)), "%v", tc.err)
	}
	assert.NoError(t, toStatus(nil))
}
