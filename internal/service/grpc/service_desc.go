package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя back-office сервиса.
const ServiceName = "campusmart.v1.OrderOps"

const (
	methodMarkPaid        = "MarkPaid"
	methodStartProcessing = "StartProcessing"
	methodShip            = "Ship"
	methodMarkDelivered   = "MarkDelivered"
	methodResolveRefund   = "ResolveRefund"
	methodOpenDispute     = "OpenDispute"
	methodGetOrder        = "GetOrder"
	methodListStoreOrders = "ListStoreOrders"
)

// OrderOpsServer — серверная часть back-office API.
type OrderOpsServer interface {
	MarkPaid(context.Context, *MarkPaidRequest) (*OrderResponse, error)
	StartProcessing(context.Context, *TransitionRequest) (*OrderResponse, error)
	Ship(context.Context, *TransitionRequest) (*OrderResponse, error)
	MarkDelivered(context.Context, *TransitionRequest) (*OrderResponse, error)
	ResolveRefund(context.Context, *ResolveRefundRequest) (*ResolveRefundResponse, error)
	OpenDispute(context.Context, *OpenDisputeRequest) (*OrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListStoreOrders(context.Context, *ListStoreOrdersRequest) (*ListStoreOrdersResponse, error)
}

// OrderOpsServiceDesc описывает сервис для grpc.Server без сгенерированного кода.
var OrderOpsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderOpsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodMarkPaid, Handler: unaryHandler(methodMarkPaid, OrderOpsServer.MarkPaid)},
		{MethodName: methodStartProcessing, Handler: unaryHandler(methodStartProcessing, OrderOpsServer.StartProcessing)},
		{MethodName: methodShip, Handler: unaryHandler(methodShip, OrderOpsServer.Ship)},
		{MethodName: methodMarkDelivered, Handler: unaryHandler(methodMarkDelivered, OrderOpsServer.MarkDelivered)},
		{MethodName: methodResolveRefund, Handler: unaryHandler(methodResolveRefund, OrderOpsServer.ResolveRefund)},
		{MethodName: methodOpenDispute, Handler: unaryHandler(methodOpenDispute, OrderOpsServer.OpenDispute)},
		{MethodName: methodGetOrder, Handler: unaryHandler(methodGetOrder, OrderOpsServer.GetOrder)},
		{MethodName: methodListStoreOrders, Handler: unaryHandler(methodListStoreOrders, OrderOpsServer.ListStoreOrders)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "campusmart/v1/order_ops",
}

// RegisterOrderOpsServer регистрирует реализацию на сервере.
func RegisterOrderOpsServer(registrar grpc.ServiceRegistrar, srv OrderOpsServer) {
	registrar.RegisterService(&OrderOpsServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Req, Resp any](method string, call func(OrderOpsServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderOpsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderOpsServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderOpsClient — клиент back-office API поверх JSON-кодека.
type OrderOpsClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderOpsClient создаёт клиента на существующем соединении.
func NewOrderOpsClient(cc grpc.ClientConnInterface) *OrderOpsClient {
	return &OrderOpsClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderOpsClient) MarkPaid(ctx context.Context, in *MarkPaidRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, methodMarkPaid, in, opts)
}

func (c *OrderOpsClient) StartProcessing(ctx context.Context, in *TransitionRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, methodStartProcessing, in, opts)
}

func (c *OrderOpsClient) Ship(ctx context.Context, in *TransitionRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, methodShip, in, opts)
}

func (c *OrderOpsClient) MarkDelivered(ctx context.Context, in *TransitionRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, methodMarkDelivered, in, opts)
}

func (c *OrderOpsClient) ResolveRefund(ctx context.Context, in *ResolveRefundRequest, opts ...grpc.CallOption) (*ResolveRefundResponse, error) {
	return invoke[ResolveRefundResponse](ctx, c.cc, methodResolveRefund, in, opts)
}

func (c *OrderOpsClient) OpenDispute(ctx context.Context, in *OpenDisputeRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, methodOpenDispute, in, opts)
}

func (c *OrderOpsClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c.cc, methodGetOrder, in, opts)
}

func (c *OrderOpsClient) ListStoreOrders(ctx context.Context, in *ListStoreOrdersRequest, opts ...grpc.CallOption) (*ListStoreOrdersResponse, error) {
	return invoke[ListStoreOrdersResponse](ctx, c.cc, methodListStoreOrders, in, opts)
}
