// patui-test-plugin is the reference plugin used by the harness's own test
// suite. It serves the plugin gRPC service on the port given via --port and
// streams five canonical values on the "out" channel when run.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/ormasoftchile/patui/pkg/logging"
	"github.com/ormasoftchile/patui/pkg/plugin"
	"github.com/ormasoftchile/patui/pkg/types"
)

func main() {
	port := flag.Int("port", 0, "loopback port to serve the plugin service on")
	flag.Parse()

	logger, closeLog, err := logging.Setup("patui-test-plugin")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closeLog()

	if *port == 0 {
		logger.Error("no port provided")
		fmt.Fprintln(os.Stderr, "usage: patui-test-plugin --port <port>")
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", *port))
	if err != nil {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	p := newTestPlugin()
	plugin.RegisterServiceServer(srv, p)

	go func() {
		<-p.shutdown
		logger.Info("shutting down")
		srv.GracefulStop()
	}()

	logger.Info("serving", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}
}

// testPlugin streams a fixed sequence so harness tests have a deterministic
// out-of-process producer.
type testPlugin struct {
	mu          sync.Mutex
	subscribers map[string][]chan types.Value
	tasks       sync.WaitGroup
	shutdown    chan struct{}
	stopOnce    sync.Once
}

func newTestPlugin() *testPlugin {
	return &testPlugin{
		subscribers: map[string][]chan types.Value{},
		shutdown:    make(chan struct{}),
	}
}

func canonicalValues() []types.Value {
	return []types.Value{
		types.Null(),
		types.Bool(true),
		types.String("test"),
		types.Array(types.Integer("1"), types.Integer("2"), types.Integer("3")),
		types.Map(map[string]types.Value{"a": types.Integer("1"), "b": types.Integer("2")}),
	}
}

func (p *testPlugin) GetInfo(ctx context.Context, req *plugin.GetInfoRequest) (*plugin.GetInfoResponse, error) {
	return &plugin.GetInfoResponse{
		StepRunner: plugin.StepRunnerInfo{
			Name:          "patui-test-plugin",
			Description:   "Reference plugin used by the harness test suite",
			Version:       "0.1.0",
			Type:          "test",
			Subscriptions: []string{"out"},
		},
	}, nil
}

func (p *testPlugin) GetStepRunner(ctx context.Context, req *plugin.GetStepRunnerRequest) (*plugin.GetStepRunnerResponse, error) {
	info, _ := p.GetInfo(ctx, &plugin.GetInfoRequest{})
	return &plugin.GetStepRunnerResponse{StepRunner: info.StepRunner}, nil
}

func (p *testPlugin) Init(ctx context.Context, req *plugin.InitRequest) (*plugin.InitResponse, error) {
	return &plugin.InitResponse{}, nil
}

func (p *testPlugin) Run(ctx context.Context, req *plugin.RunRequest) (*plugin.RunResponse, error) {
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		for _, v := range canonicalValues() {
			time.Sleep(10 * time.Millisecond)
			p.mu.Lock()
			for _, ch := range p.subscribers["out"] {
				ch <- v
			}
			p.mu.Unlock()
		}
		p.mu.Lock()
		for _, subs := range p.subscribers {
			for _, ch := range subs {
				close(ch)
			}
		}
		p.subscribers = map[string][]chan types.Value{}
		p.mu.Unlock()
	}()
	return &plugin.RunResponse{}, nil
}

func (p *testPlugin) Subscribe(req *plugin.SubscribeRequest, stream grpc.ServerStreamingServer[plugin.SubscribeResponse]) error {
	if req.Name != "out" {
		return fmt.Errorf("only the 'out' subscription is supported, not %q", req.Name)
	}

	ch := make(chan types.Value, 4)
	p.mu.Lock()
	p.subscribers[req.Name] = append(p.subscribers[req.Name], ch)
	p.mu.Unlock()

	for v := range ch {
		payload, err := types.EncodeValue(v)
		if err != nil {
			return err
		}
		if err := stream.Send(&plugin.SubscribeResponse{Data: plugin.StepData{Bytes: payload}}); err != nil {
			return err
		}
	}
	return nil
}

func (p *testPlugin) Wait(ctx context.Context, req *plugin.WaitRequest) (*plugin.WaitResponse, error) {
	p.tasks.Wait()
	p.stopOnce.Do(func() { close(p.shutdown) })
	return &plugin.WaitResponse{}, nil
}
