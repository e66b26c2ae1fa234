package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "kestrel.OrderService"

// OrderServiceServer is the server side of kestrel.OrderService.
type OrderServiceServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	GetDepth(context.Context, *GetDepthRequest) (*GetDepthResponse, error)
	ListSymbols(context.Context, *ListSymbolsRequest) (*ListSymbolsResponse, error)
}

// Full method names, for clients calling through grpc.ClientConn.Invoke.
const (
	MethodPlaceOrder  = "/" + serviceName + "/PlaceOrder"
	MethodCancelOrder = "/" + serviceName + "/CancelOrder"
	MethodGetOrder    = "/" + serviceName + "/GetOrder"
	MethodGetDepth    = "/" + serviceName + "/GetDepth"
	MethodListSymbols = "/" + serviceName + "/ListSymbols"
)

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unary(MethodPlaceOrder, OrderServiceServer.PlaceOrder)},
		{MethodName: "CancelOrder", Handler: unary(MethodCancelOrder, OrderServiceServer.CancelOrder)},
		{MethodName: "GetOrder", Handler: unary(MethodGetOrder, OrderServiceServer.GetOrder)},
		{MethodName: "GetDepth", Handler: unary(MethodGetDepth, OrderServiceServer.GetDepth)},
		{MethodName: "ListSymbols", Handler: unary(MethodListSymbols, OrderServiceServer.ListSymbols)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kestrel/order_service",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// unary builds the method handler that generated code would spell out
// once per method.
func unary[Req, Resp any](
	fullMethod string,
	call func(OrderServiceServer, context.Context, *Req) (*Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
