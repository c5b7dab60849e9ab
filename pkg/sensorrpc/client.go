package sensorrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the SensorData service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetLatest invokes the raw GetLatest RPC.
func (c *Client) GetLatest(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethodGetLatest, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHistory invokes the raw GetHistory RPC.
func (c *Client) GetHistory(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, FullMethodGetHistory, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the newest reading, or nil when the backend has none.
func (c *Client) Latest(ctx context.Context) (*Reading, error) {
	s, err := c.GetLatest(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := FromStruct(s)
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "decode reading: %v", err)
	}
	return &r, nil
}

// History returns the recent readings, newest first.
func (c *Client) History(ctx context.Context) ([]Reading, error) {
	l, err := c.GetHistory(ctx)
	if err != nil {
		return nil, err
	}
	readings, err := FromList(l)
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "decode history: %v", err)
	}
	return readings, nil
}
