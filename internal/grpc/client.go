package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client is a typed dispatch client over a shared connection. Every call
// sends the bearer token and selects the JSON codec.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewClient wraps cc; token is the dispatcher's JWT.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(Resp)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Activate(ctx context.Context) (*ActivateResponse, error) {
	return invoke[ActivateResponse](ctx, c, "Activate", &Empty{})
}

func (c *Client) Logout(ctx context.Context) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "Logout", &Empty{})
}

func (c *Client) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c, "ListOrders", req)
}

func (c *Client) AddOrder(ctx context.Context, req *AddOrderRequest) (*AddOrderResponse, error) {
	return invoke[AddOrderResponse](ctx, c, "AddOrder", req)
}

func (c *Client) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "UpdateOrder", req)
}

func (c *Client) DeleteOrders(ctx context.Context, req *DeleteOrdersRequest) (*DeleteOrdersResponse, error) {
	return invoke[DeleteOrdersResponse](ctx, c, "DeleteOrders", req)
}

func (c *Client) ImportFile(ctx context.Context, req *ImportFileRequest) (*ImportResponse, error) {
	return invoke[ImportResponse](ctx, c, "ImportFile", req)
}

func (c *Client) ParseOrders(ctx context.Context, req *ParseOrdersRequest) (*ImportResponse, error) {
	return invoke[ImportResponse](ctx, c, "ParseOrders", req)
}

func (c *Client) ListDrivers(ctx context.Context) (*ListDriversResponse, error) {
	return invoke[ListDriversResponse](ctx, c, "ListDrivers", &Empty{})
}

func (c *Client) SelectDrivers(ctx context.Context, req *SelectDriversRequest) (*ListDriversResponse, error) {
	return invoke[ListDriversResponse](ctx, c, "SelectDrivers", req)
}

func (c *Client) ConfigureDriver(ctx context.Context, req *ConfigureDriverRequest) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "ConfigureDriver", req)
}

func (c *Client) AddDriver(ctx context.Context, req *AddDriverRequest) (*AddDriverResponse, error) {
	return invoke[AddDriverResponse](ctx, c, "AddDriver", req)
}

func (c *Client) RunOptimization(ctx context.Context) (*OptimizationResponse, error) {
	return invoke[OptimizationResponse](ctx, c, "RunOptimization", &Empty{})
}

func (c *Client) ConfirmOptimization(ctx context.Context) (*OptimizationResponse, error) {
	return invoke[OptimizationResponse](ctx, c, "ConfirmOptimization", &Empty{})
}

func (c *Client) DiscardOptimization(ctx context.Context) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "DiscardOptimization", &Empty{})
}

func (c *Client) ListRoutes(ctx context.Context) (*ListRoutesResponse, error) {
	return invoke[ListRoutesResponse](ctx, c, "ListRoutes", &Empty{})
}

func (c *Client) ForceAssign(ctx context.Context, req *ForceAssignRequest) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "ForceAssign", req)
}

func (c *Client) MarkDelivered(ctx context.Context, orderID string) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "MarkDelivered", &CloseOrderRequest{OrderID: orderID})
}

func (c *Client) MarkFailed(ctx context.Context, orderID string) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "MarkFailed", &CloseOrderRequest{OrderID: orderID})
}

func (c *Client) SyncToStore(ctx context.Context) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c, "SyncToStore", &Empty{})
}

func (c *Client) AdvanceDay(ctx context.Context) (*AdvanceDayResponse, error) {
	return invoke[AdvanceDayResponse](ctx, c, "AdvanceDay", &Empty{})
}

func (c *Client) SetDriverStatus(ctx context.Context, driverID string, active bool) (*SetDriverStatusResponse, error) {
	return invoke[SetDriverStatusResponse](ctx, c, "SetDriverStatus", &SetDriverStatusRequest{DriverID: driverID, Active: active})
}

func (c *Client) History(ctx context.Context, from, to string) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c, "History", &HistoryRequest{From: from, To: to})
}
