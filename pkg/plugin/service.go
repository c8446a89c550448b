package plugin

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service plugins expose.
const ServiceName = "patui.PluginService"

// StepRunnerInfo identifies a plugin and the subscriptions it offers.
type StepRunnerInfo struct {
	Name          string   `msgpack:"name"`
	Description   string   `msgpack:"description"`
	Version       string   `msgpack:"version"`
	Type          string   `msgpack:"type"`
	Subscriptions []string `msgpack:"subscriptions"`
}

// StepData carries one MessagePack-encoded Value (types.EncodeValue).
type StepData struct {
	Bytes []byte `msgpack:"bytes"`
}

// GetInfoRequest asks the plugin to identify itself.
type GetInfoRequest struct{}

// GetInfoResponse is the plugin's identity.
type GetInfoResponse struct {
	StepRunner StepRunnerInfo `msgpack:"step_runner"`
}

// GetStepRunnerRequest selects a named runner from a multi-runner plugin.
type GetStepRunnerRequest struct {
	Name string `msgpack:"name"`
}

// GetStepRunnerResponse describes the selected runner.
type GetStepRunnerResponse struct {
	StepRunner StepRunnerInfo `msgpack:"step_runner"`
}

// InitRequest hands the plugin its configuration and input expressions.
type InitRequest struct {
	Config map[string]string `msgpack:"config"`
	In     map[string]string `msgpack:"in"`
}

// InitResponse reports initialization diagnostics; non-empty means failure.
type InitResponse struct {
	Diagnostics []string `msgpack:"diagnostics"`
}

// RunRequest starts the plugin's tasks.
type RunRequest struct{}

// RunResponse acknowledges the run request.
type RunResponse struct{}

// SubscribeRequest opens a server stream of data for a named channel.
type SubscribeRequest struct {
	Name string `msgpack:"name"`
}

// SubscribeResponse is one streamed datum.
type SubscribeResponse struct {
	Data        StepData `msgpack:"data"`
	Diagnostics []string `msgpack:"diagnostics"`
}

// WaitRequest asks the plugin to settle and report.
type WaitRequest struct{}

// WaitResponse carries terminal diagnostics; non-empty means failure.
type WaitResponse struct {
	Diagnostics []string `msgpack:"diagnostics"`
}

// ServiceClient is the harness-side view of the plugin service.
type ServiceClient interface {
	GetInfo(ctx context.Context, in *GetInfoRequest, opts ...grpc.CallOption) (*GetInfoResponse, error)
	GetStepRunner(ctx context.Context, in *GetStepRunnerRequest, opts ...grpc.CallOption) (*GetStepRunnerResponse, error)
	Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*InitResponse, error)
	Run(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunResponse, error)
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[SubscribeResponse], error)
	Wait(ctx context.Context, in *WaitRequest, opts ...grpc.CallOption) (*WaitResponse, error)
}

type serviceClient struct {
	cc grpc.ClientConnInterface
}

// NewServiceClient wraps a client connection. Every call forces the msgpack
// codec so the connection needs no extra dial options.
func NewServiceClient(cc grpc.ClientConnInterface) ServiceClient {
	return &serviceClient{cc: cc}
}

func (c *serviceClient) callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *serviceClient) GetInfo(ctx context.Context, in *GetInfoRequest, opts ...grpc.CallOption) (*GetInfoResponse, error) {
	out := new(GetInfoResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetInfo", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *serviceClient) GetStepRunner(ctx context.Context, in *GetStepRunnerRequest, opts ...grpc.CallOption) (*GetStepRunnerResponse, error) {
	out := new(GetStepRunnerResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetStepRunner", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *serviceClient) Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*InitResponse, error) {
	out := new(InitResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Init", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *serviceClient) Run(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Run", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *serviceClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[SubscribeResponse], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Subscribe", c.callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, SubscribeResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *serviceClient) Wait(ctx context.Context, in *WaitRequest, opts ...grpc.CallOption) (*WaitResponse, error) {
	out := new(WaitResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Wait", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ServiceServer is the plugin-side contract.
type ServiceServer interface {
	GetInfo(context.Context, *GetInfoRequest) (*GetInfoResponse, error)
	GetStepRunner(context.Context, *GetStepRunnerRequest) (*GetStepRunnerResponse, error)
	Init(context.Context, *InitRequest) (*InitResponse, error)
	Run(context.Context, *RunRequest) (*RunResponse, error)
	Subscribe(*SubscribeRequest, grpc.ServerStreamingServer[SubscribeResponse]) error
	Wait(context.Context, *WaitRequest) (*WaitResponse, error)
}

// RegisterServiceServer attaches an implementation to a gRPC server.
func RegisterServiceServer(s grpc.ServiceRegistrar, srv ServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getInfoHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(ServiceServer).GetInfo(ctx, in)
}

func getStepRunnerHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStepRunnerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(ServiceServer).GetStepRunner(ctx, in)
}

func initHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	in := new(InitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(ServiceServer).Init(ctx, in)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(ServiceServer).Run(ctx, in)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	typed := &grpc.GenericServerStream[SubscribeRequest, SubscribeResponse]{ServerStream: stream}
	return srv.(ServiceServer).Subscribe(in, typed)
}

func waitHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	in := new(WaitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(ServiceServer).Wait(ctx, in)
}

// ServiceDesc wires the method table by hand; there is no generated code
// because the frames are msgpack, not protobuf.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInfo", Handler: getInfoHandler},
		{MethodName: "GetStepRunner", Handler: getStepRunnerHandler},
		{MethodName: "Init", Handler: initHandler},
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "Wait", Handler: waitHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
}
