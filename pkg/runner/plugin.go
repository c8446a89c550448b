package runner

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/plugin"
	"github.com/ormasoftchile/patui/pkg/types"
)

// Plugin startup: the child is polled until its port accepts connections.
const (
	pluginStartupTimeout = time.Second
	pluginStartupProbe   = 25 * time.Millisecond
)

// PluginRunner spawns an external plugin binary and drives it over gRPC on
// a loopback port. The runner owns the child: it is killed unconditionally
// on teardown.
type PluginRunner struct {
	name string
	step *types.PluginStep

	cmd    *exec.Cmd
	conn   *grpc.ClientConn
	client plugin.ServiceClient

	runDone chan struct{} // oneshot: the Run RPC returned
	runErr  error

	mu       sync.Mutex
	channels map[string]*broadcast.Channel[types.Datum]

	wg       sync.WaitGroup
	waitOnce sync.Once
	waitErr  error
	done     bool
}

// NewPluginRunner builds the runner. Plugin output channels are created
// lazily per subscription since they live on the remote side.
func NewPluginRunner(name string, step *types.PluginStep) *PluginRunner {
	return &PluginRunner{
		name:     name,
		step:     step,
		runDone:  make(chan struct{}),
		channels: map[string]*broadcast.Channel[types.Datum]{},
	}
}

func (r *PluginRunner) Name() string { return r.name }

// Init spawns the plugin process, waits for its port to accept connections,
// validates its identity with GetInfo and issues Init. A missing path is a
// Configuration error; every other failure is an External error.
func (r *PluginRunner) Init(peers Peers) error {
	if r.client != nil {
		return nil
	}
	if r.step.Path == "" {
		return types.NewError(types.ErrConfiguration, "step %q: plugin has no path", r.name)
	}

	port, err := unusedLoopbackPort()
	if err != nil {
		return types.WrapError(types.ErrExternal, err, "step %q: allocate port", r.name)
	}

	cmd := exec.Command(r.step.Path, "--port", strconv.Itoa(port))
	cmd.Env = append(os.Environ(), "PATUI_LOG=trace")
	if os.Getenv("PATUI_LOG_FILE") == "" {
		cmd.Env = append(cmd.Env,
			"PATUI_LOG_FILE="+filepath.Join(os.TempDir(), "patui-plugin-${datetime}.log"))
	}
	if err := cmd.Start(); err != nil {
		return types.WrapError(types.ErrExternal, err, "step %q: spawn plugin %q", r.name, r.step.Path)
	}
	r.cmd = cmd

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if err := waitForPort(addr, pluginStartupTimeout); err != nil {
		r.Kill()
		return types.WrapError(types.ErrExternal, err, "step %q: plugin never opened %s", r.name, addr)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		r.Kill()
		return types.WrapError(types.ErrExternal, err, "step %q: dial plugin", r.name)
	}
	r.conn = conn
	client := plugin.NewServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), pluginStartupTimeout)
	defer cancel()
	info, err := client.GetInfo(ctx, &plugin.GetInfoRequest{})
	if err != nil {
		r.Kill()
		return types.WrapError(types.ErrExternal, err, "step %q: plugin get_info", r.name)
	}
	if info.StepRunner.Name == "" {
		r.Kill()
		return types.NewError(types.ErrExternal, "step %q: plugin reported no identity", r.name)
	}

	initResp, err := client.Init(context.Background(), &plugin.InitRequest{
		Config: r.step.Config,
		In:     r.step.In,
	})
	if err != nil {
		r.Kill()
		return types.WrapError(types.ErrExternal, err, "step %q: plugin init", r.name)
	}
	if len(initResp.Diagnostics) > 0 {
		r.Kill()
		return types.NewError(types.ErrExternal, "step %q: plugin init diagnostics: %v", r.name, initResp.Diagnostics)
	}

	r.client = client
	return nil
}

// Run issues the run RPC in the background; the oneshot fires when it
// returns.
func (r *PluginRunner) Run(events *Sink) error {
	if r.client == nil {
		return types.NewError(types.ErrInternalInvariant, "step %q: run before init", r.name)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.runDone)
		if _, err := r.client.Run(context.Background(), &plugin.RunRequest{}); err != nil {
			r.runErr = types.WrapError(types.ErrExternal, err, "step %q: plugin run", r.name)
			events.Send(types.ErrorEvent(r.name, r.runErr.Error()))
		}
	}()
	return nil
}

// Subscribe opens a server-streaming call for the named channel and relays
// each decoded datum onto a local broadcast until the plugin closes the
// stream.
func (r *PluginRunner) Subscribe(channel string) (*broadcast.Receiver[types.Datum], error) {
	if r.done {
		return nil, types.NewError(types.ErrInternalInvariant, "step %q: subscribe after wait", r.name)
	}
	if r.client == nil {
		return nil, types.NewError(types.ErrInternalInvariant, "step %q: subscribe before init", r.name)
	}

	r.mu.Lock()
	if ch, ok := r.channels[channel]; ok {
		defer r.mu.Unlock()
		return ch.Subscribe(), nil
	}
	ch := broadcast.New[types.Datum](pluginChanCap)
	r.channels[channel] = ch
	r.mu.Unlock()

	stream, err := r.client.Subscribe(context.Background(), &plugin.SubscribeRequest{Name: channel})
	if err != nil {
		return nil, types.WrapError(types.ErrExternal, err, "step %q: plugin subscribe %q", r.name, channel)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ch.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				return // server closed the stream (or the child died)
			}
			v, err := types.DecodeValue(resp.Data.Bytes)
			if err != nil {
				continue // skip undecodable data, the stream stays up
			}
			ch.Send(types.NewDatum(v))
		}
	}()

	return ch.Subscribe(), nil
}

// Wait awaits the run oneshot, collects the plugin's terminal diagnostics,
// then kills and reaps the child. Non-empty diagnostics are an External
// error.
func (r *PluginRunner) Wait() error {
	r.waitOnce.Do(func() {
		defer func() { r.done = true }()

		<-r.runDone
		if r.runErr != nil {
			r.waitErr = r.runErr
		}

		if r.client != nil && r.waitErr == nil {
			resp, err := r.client.Wait(context.Background(), &plugin.WaitRequest{})
			switch {
			case err != nil:
				r.waitErr = types.WrapError(types.ErrExternal, err, "step %q: plugin wait", r.name)
			case len(resp.Diagnostics) > 0:
				r.waitErr = types.NewError(types.ErrExternal,
					"step %q: plugin diagnostics: %v", r.name, resp.Diagnostics)
			}
		}

		r.Kill()
		r.wg.Wait()

		r.mu.Lock()
		for _, ch := range r.channels {
			ch.Close()
		}
		r.mu.Unlock()

		if r.conn != nil {
			r.conn.Close()
		}
	})
	return r.waitErr
}

// Kill terminates and reaps the plugin child unconditionally.
func (r *PluginRunner) Kill() {
	if r.cmd != nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
		_ = r.cmd.Wait()
	}
}

func unusedLoopbackPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitForPort polls until the address accepts a TCP connection or the
// timeout elapses.
func waitForPort(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, pluginStartupProbe)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no listener on %s after %s", addr, timeout)
		}
		time.Sleep(pluginStartupProbe)
	}
}
