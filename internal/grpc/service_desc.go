package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified dispatch service name.
const ServiceName = "dispatch.v1.DispatchService"

// DispatchServer is the server API of the dispatch service.
type DispatchServer interface {
	Activate(context.Context, *Empty) (*ActivateResponse, error)
	Logout(context.Context, *Empty) (*CommandResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	AddOrder(context.Context, *AddOrderRequest) (*AddOrderResponse, error)
	UpdateOrder(context.Context, *UpdateOrderRequest) (*CommandResponse, error)
	DeleteOrders(context.Context, *DeleteOrdersRequest) (*DeleteOrdersResponse, error)
	ImportFile(context.Context, *ImportFileRequest) (*ImportResponse, error)
	ParseOrders(context.Context, *ParseOrdersRequest) (*ImportResponse, error)
	ListDrivers(context.Context, *Empty) (*ListDriversResponse, error)
	SelectDrivers(context.Context, *SelectDriversRequest) (*ListDriversResponse, error)
	ConfigureDriver(context.Context, *ConfigureDriverRequest) (*CommandResponse, error)
	AddDriver(context.Context, *AddDriverRequest) (*AddDriverResponse, error)
	SetDriverStatus(context.Context, *SetDriverStatusRequest) (*SetDriverStatusResponse, error)
	RunOptimization(context.Context, *Empty) (*OptimizationResponse, error)
	ConfirmOptimization(context.Context, *Empty) (*OptimizationResponse, error)
	DiscardOptimization(context.Context, *Empty) (*CommandResponse, error)
	ListRoutes(context.Context, *Empty) (*ListRoutesResponse, error)
	ForceAssign(context.Context, *ForceAssignRequest) (*CommandResponse, error)
	MarkDelivered(context.Context, *CloseOrderRequest) (*CommandResponse, error)
	MarkFailed(context.Context, *CloseOrderRequest) (*CommandResponse, error)
	SyncToStore(context.Context, *Empty) (*CommandResponse, error)
	AdvanceDay(context.Context, *Empty) (*AdvanceDayResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

// FullMethod returns "/dispatch.v1.DispatchService/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// unary adapts a DispatchServer method expression to a grpc.MethodDesc,
// running it through the server's interceptor chain.
func unary[Req, Resp any](name string, call func(DispatchServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DispatchServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// DispatchServiceDesc describes the dispatch service for grpc.Server.RegisterService.
var DispatchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Activate", DispatchServer.Activate),
		unary("Logout", DispatchServer.Logout),
		unary("ListOrders", DispatchServer.ListOrders),
		unary("AddOrder", DispatchServer.AddOrder),
		unary("UpdateOrder", DispatchServer.UpdateOrder),
		unary("DeleteOrders", DispatchServer.DeleteOrders),
		unary("ImportFile", DispatchServer.ImportFile),
		unary("ParseOrders", DispatchServer.ParseOrders),
		unary("ListDrivers", DispatchServer.ListDrivers),
		unary("SelectDrivers", DispatchServer.SelectDrivers),
		unary("ConfigureDriver", DispatchServer.ConfigureDriver),
		unary("AddDriver", DispatchServer.AddDriver),
		unary("SetDriverStatus", DispatchServer.SetDriverStatus),
		unary("RunOptimization", DispatchServer.RunOptimization),
		unary("ConfirmOptimization", DispatchServer.ConfirmOptimization),
		unary("DiscardOptimization", DispatchServer.DiscardOptimization),
		unary("ListRoutes", DispatchServer.ListRoutes),
		unary("ForceAssign", DispatchServer.ForceAssign),
		unary("MarkDelivered", DispatchServer.MarkDelivered),
		unary("MarkFailed", DispatchServer.MarkFailed),
		unary("SyncToStore", DispatchServer.SyncToStore),
		unary("AdvanceDay", DispatchServer.AdvanceDay),
		unary("History", DispatchServer.History),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterDispatchServer registers srv on s.
func RegisterDispatchServer(s grpc.ServiceRegistrar, srv DispatchServer) {
	s.RegisterService(&DispatchServiceDesc, srv)
}
