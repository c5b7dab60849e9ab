package sensorrpc_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/water-monitor/pkg/sensorrpc"
)

type staticServer struct {
	sensorrpc.UnimplementedSensorDataServer
	readings []sensorrpc.Reading
}

func (s *staticServer) GetLatest(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if len(s.readings) == 0 {
		return nil, status.Error(codes.NotFound, "no readings")
	}
	return s.readings[0].ToStruct(), nil
}

func (s *staticServer) GetHistory(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return sensorrpc.ToList(s.readings), nil
}

func dialBuf(srv sensorrpc.SensorDataServer) *grpc.ClientConn {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	if srv != nil {
		sensorrpc.RegisterSensorDataServer(s, srv)
	}
	go func() { _ = s.Serve(lis) }()
	DeferCleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = conn.Close() })
	return conn
}

var _ = Describe("Reading encoding", func() {
	ts := time.Date(2024, 2, 29, 23, 59, 59, 123456000, time.UTC)
	r := sensorrpc.Reading{ID: 7, WaterLevel: 42.5, WaterFlow: -1, Timestamp: ts}

	It("should round trip through Struct", func() {
		back, err := sensorrpc.FromStruct(r.ToStruct())
		Expect(err).NotTo(HaveOccurred())
		Expect(back.ID).To(Equal(r.ID))
		Expect(back.WaterLevel).To(Equal(r.WaterLevel))
		Expect(back.WaterFlow).To(Equal(r.WaterFlow))
		Expect(back.Timestamp).To(BeTemporally("==", ts))
	})

	It("should use the JSON API field names", func() {
		Expect(r.ToStruct().GetFields()).To(HaveKey("waterLevel"))
		Expect(r.ToStruct().GetFields()).To(HaveKey("timestamp"))
	})

	DescribeTable("should reject malformed structs",
		func(mutate func(*structpb.Struct)) {
			s := r.ToStruct()
			mutate(s)
			_, err := sensorrpc.FromStruct(s)
			Expect(err).To(HaveOccurred())
		},
		Entry("missing level", func(s *structpb.Struct) { delete(s.Fields, "waterLevel") }),
		Entry("string flow", func(s *structpb.Struct) { s.Fields["waterFlow"] = structpb.NewStringValue("7") }),
		Entry("bad timestamp", func(s *structpb.Struct) { s.Fields["timestamp"] = structpb.NewStringValue("yesterday") }),
	)

	It("should reject nil", func() {
		_, err := sensorrpc.FromStruct(nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Client", func() {
	ctx := context.Background()

	It("should fetch latest and history over gRPC", func() {
		readings := []sensorrpc.Reading{
			{ID: 2, WaterLevel: 2, WaterFlow: 2, Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
			{ID: 1, WaterLevel: 1, WaterFlow: 1, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		}
		client := sensorrpc.NewClient(dialBuf(&staticServer{readings: readings}))

		latest, err := client.Latest(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.ID).To(Equal(uint64(2)))

		history, err := client.History(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[1].ID).To(Equal(uint64(1)))
	})

	It("should map NotFound to a nil latest reading", func() {
		client := sensorrpc.NewClient(dialBuf(&staticServer{}))

		latest, err := client.Latest(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(BeNil())

		history, err := client.History(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(BeEmpty())
	})

	It("should report Unimplemented from the embedded default", func() {
		client := sensorrpc.NewClient(dialBuf(&sensorrpc.UnimplementedSensorDataServer{}))
		_, err := client.History(ctx)
		Expect(status.Code(err)).To(Equal(codes.Unimplemented))
	})

	It("should report Unimplemented for an unregistered service", func() {
		client := sensorrpc.NewClient(dialBuf(nil))
		_, err := client.GetLatest(ctx)
		Expect(status.Code(err)).To(Equal(codes.Unimplemented))
	})
})
