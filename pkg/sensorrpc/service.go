// Package sensorrpc defines the watermonitor.v1.SensorData gRPC service.
//
// Messages are protobuf well-known types (Empty, Struct, ListValue), so the
// service descriptor and handlers are written by hand instead of generated.
package sensorrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names.
const (
	ServiceName          = "watermonitor.v1.SensorData"
	FullMethodGetLatest  = "/" + ServiceName + "/GetLatest"
	FullMethodGetHistory = "/" + ServiceName + "/GetHistory"
)

// SensorDataServer is the server API for the SensorData service.
type SensorDataServer interface {
	// GetLatest returns the newest reading, or NotFound when there is none.
	GetLatest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// GetHistory returns the recent readings, newest first.
	GetHistory(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// UnimplementedSensorDataServer can be embedded for forward compatibility.
type UnimplementedSensorDataServer struct{}

func (UnimplementedSensorDataServer) GetLatest(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLatest not implemented")
}

func (UnimplementedSensorDataServer) GetHistory(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetHistory not implemented")
}

// RegisterSensorDataServer registers srv on s.
func RegisterSensorDataServer(s grpc.ServiceRegistrar, srv SensorDataServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getLatestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorDataServer).GetLatest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethodGetLatest}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SensorDataServer).GetLatest(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getHistoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorDataServer).GetHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethodGetHistory}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SensorDataServer).GetHistory(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the SensorData service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SensorDataServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetLatest", Handler: getLatestHandler},
		{MethodName: "GetHistory", Handler: getHistoryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "watermonitor/v1/sensor_data.proto",
}
