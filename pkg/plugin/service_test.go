package plugin

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ormasoftchile/patui/pkg/types"
)

// echoServer is a minimal in-process plugin used to exercise the msgpack
// codec and the hand-built service descriptor end to end over real TCP.
type echoServer struct {
	values []types.Value
}

func (s *echoServer) GetInfo(ctx context.Context, req *GetInfoRequest) (*GetInfoResponse, error) {
	return &GetInfoResponse{StepRunner: StepRunnerInfo{Name: "echo", Version: "0.0.1"}}, nil
}

func (s *echoServer) GetStepRunner(ctx context.Context, req *GetStepRunnerRequest) (*GetStepRunnerResponse, error) {
	return &GetStepRunnerResponse{StepRunner: StepRunnerInfo{Name: req.Name}}, nil
}

func (s *echoServer) Init(ctx context.Context, req *InitRequest) (*InitResponse, error) {
	if req.Config["poison"] != "" {
		return &InitResponse{Diagnostics: []string{"poisoned"}}, nil
	}
	return &InitResponse{}, nil
}

func (s *echoServer) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	return &RunResponse{}, nil
}

func (s *echoServer) Subscribe(req *SubscribeRequest, stream grpc.ServerStreamingServer[SubscribeResponse]) error {
	for _, v := range s.values {
		payload, err := types.EncodeValue(v)
		if err != nil {
			return err
		}
		if err := stream.Send(&SubscribeResponse{Data: StepData{Bytes: payload}}); err != nil {
			return err
		}
	}
	return nil
}

func (s *echoServer) Wait(ctx context.Context, req *WaitRequest) (*WaitResponse, error) {
	return &WaitResponse{}, nil
}

func startServer(t *testing.T, impl ServiceServer) ServiceClient {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterServiceServer(srv, impl)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewServiceClient(conn)
}

func TestUnaryRoundTrip(t *testing.T) {
	client := startServer(t, &echoServer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := client.GetInfo(ctx, &GetInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, "echo", info.StepRunner.Name)

	initResp, err := client.Init(ctx, &InitRequest{Config: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Empty(t, initResp.Diagnostics)

	poisoned, err := client.Init(ctx, &InitRequest{Config: map[string]string{"poison": "yes"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"poisoned"}, poisoned.Diagnostics)

	_, err = client.Run(ctx, &RunRequest{})
	require.NoError(t, err)

	wait, err := client.Wait(ctx, &WaitRequest{})
	require.NoError(t, err)
	assert.Empty(t, wait.Diagnostics)
}

func TestSubscribeStreamsValuesInOrder(t *testing.T) {
	want := []types.Value{
		types.Null(),
		types.Bool(true),
		types.String("test"),
		types.Array(types.Integer("1"), types.Integer("2"), types.Integer("3")),
		types.Map(map[string]types.Value{"a": types.Integer("1"), "b": types.Integer("2")}),
	}
	client := startServer(t, &echoServer{values: want})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Subscribe(ctx, &SubscribeRequest{Name: "out"})
	require.NoError(t, err)

	var got []types.Value
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		v, err := types.DecodeValue(resp.Data.Bytes)
		require.NoError(t, err)
		got = append(got, v)
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, got[i].Equal(want[i]), "value %d: got %s want %s", i, got[i], want[i])
	}
}
