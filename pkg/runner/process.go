package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/creack/pty"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// processChunkSize bounds reads from the child's output streams.
const processChunkSize = 4096

type processState int

const (
	procNotStarted processState = iota
	procSpawned
	procExited
)

// ProcessRunner spawns a subprocess and bridges its standard streams onto
// broadcast channels: "stdout" and "stderr" are subscribed to, "stdin" is
// published to by peers (or fed from the optional In term). The exit-code
// actions are subscribable too: "wait" delivers the code once the child is
// reaped, "check" a non-blocking snapshot. In PTY mode the
// child is attached to a pseudo-terminal; stdin and stdout are then the two
// halves of the same byte stream and stderr is not separately available.
type ProcessRunner struct {
	name string
	step *types.ProcessStep

	stdin  *broadcast.Channel[types.Datum]
	stdout *broadcast.Channel[types.Datum]
	stderr *broadcast.Channel[types.Datum]
	waitCh *broadcast.Channel[types.Datum] // carries the exit code once reaped

	inRx    *broadcast.Receiver[types.Datum] // optional upstream for stdin
	inited  bool
	stdinRx *broadcast.Receiver[types.Datum]

	mu       sync.Mutex
	state    processState
	cmd      *exec.Cmd
	ptyFile  *os.File
	exitCode int

	exited     chan struct{} // closed once the child is reaped
	reapOnce   sync.Once
	settleOnce sync.Once

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     bool
}

// NewProcessRunner builds the runner; all channels are live immediately.
func NewProcessRunner(name string, step *types.ProcessStep) *ProcessRunner {
	r := &ProcessRunner{
		name:     name,
		step:     step,
		stdin:    broadcast.New[types.Datum](passthroughChanCap),
		stdout:   broadcast.New[types.Datum](passthroughChanCap),
		stderr:   broadcast.New[types.Datum](passthroughChanCap),
		waitCh:   broadcast.New[types.Datum](1),
		exitCode: -1,
		exited:   make(chan struct{}),
	}
	// Attach the stdin cursor up front so no published datum is missed.
	r.stdinRx = r.stdin.Subscribe()
	return r
}

func (r *ProcessRunner) Name() string { return r.name }

func (r *ProcessRunner) Init(peers Peers) error {
	if r.inited {
		return nil
	}
	if r.step.Command == "" {
		return types.NewError(types.ErrConfiguration, "step %q: process has no command", r.name)
	}
	if r.step.In != "" {
		e, err := parseStepExpr(r.name, r.step.In)
		if err != nil {
			return err
		}
		term, ok := e.Kind.(expr.Term)
		if !ok {
			return types.NewError(types.ErrConfiguration,
				"step %q: process input must be a term, got %q", r.name, e.Raw)
		}
		receivers, err := subscribeTerms([]*expr.Expr{e}, r.name, peers)
		if err != nil {
			return err
		}
		key, _ := term.SubscriptionKey()
		r.inRx = receivers[key]
	}
	r.inited = true
	return nil
}

// Run spawns the child and its forwarder tasks. A spawn failure is an
// External error; the runner transitions straight to terminal and
// subscribers observe closed streams.
func (r *ProcessRunner) Run(events *Sink) error {
	cmd := exec.Command(r.step.Command, r.step.Args...)
	if r.step.Cwd != "" {
		cmd.Dir = r.step.Cwd
	}
	cmd.Env = os.Environ()

	var err error
	if r.step.Tty != nil {
		err = r.runPty(cmd, events)
	} else {
		err = r.runPipes(cmd, events)
	}
	if err != nil {
		r.markExited(-1)
		r.stdout.Close()
		r.stderr.Close()
		return types.WrapError(types.ErrExternal, err, "step %q: spawn %q", r.name, r.step.Command)
	}

	r.mu.Lock()
	r.state = procSpawned
	r.cmd = cmd
	r.mu.Unlock()

	if r.inRx != nil {
		r.wg.Add(1)
		go r.forwardInput(events)
	}
	return nil
}

func (r *ProcessRunner) runPipes(cmd *exec.Cmd, events *Sink) error {
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var ioWG sync.WaitGroup
	ioWG.Add(2)
	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		defer ioWG.Done()
		r.pump(stdoutPipe, r.stdout, "stdout", events)
	}()
	go func() {
		defer r.wg.Done()
		defer ioWG.Done()
		r.pump(stderrPipe, r.stderr, "stderr", events)
	}()
	go func() {
		defer r.wg.Done()
		r.drainStdin(stdinPipe, events)
	}()

	// Reap after the output pipes drain; Wait closes them.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ioWG.Wait()
		r.reap(cmd)
		r.stdout.Close()
		r.stderr.Close()
	}()
	return nil
}

func (r *ProcessRunner) runPty(cmd *exec.Cmd, events *Sink) error {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: r.step.Tty.Rows,
		Cols: r.step.Tty.Cols,
		X:    r.step.Tty.Cols * 9,
		Y:    r.step.Tty.Rows * 16,
	})
	if err != nil {
		return types.WrapError(types.ErrExternal, err, "allocate pty")
	}
	r.mu.Lock()
	r.ptyFile = f
	r.mu.Unlock()

	// One bidirectional stream: reads publish to stdout, stdin writes into
	// the same descriptor.
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.pump(f, r.stdout, "pty", events)
		r.reap(cmd)
		r.stdout.Close()
		r.stderr.Close()
	}()
	go func() {
		defer r.wg.Done()
		r.drainStdin(f, events)
	}()
	return nil
}

// pump copies a child output stream onto a broadcast channel until EOF. An
// I/O error is reported and terminates only this forwarder.
func (r *ProcessRunner) pump(src io.Reader, dst *broadcast.Channel[types.Datum], stream string, events *Sink) {
	buf := make([]byte, processChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := append([]byte{}, buf[:n]...)
			dst.Send(types.NewDatum(types.Bytes(chunk)))
			events.Send(types.BytesEvent(r.name, chunk))
		}
		if err != nil {
			// A closed PTY master reports EIO when the child exits.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && stream != "pty" {
				events.Send(types.ErrorEvent(r.name, fmt.Sprintf("%s: %v", stream, err)))
			}
			return
		}
	}
}

// drainStdin copies every datum published to the stdin channel into the
// child. The channel closes during Wait.
func (r *ProcessRunner) drainStdin(dst io.Writer, events *Sink) {
	for {
		datum, err := r.stdinRx.Recv()
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				events.Send(types.LogEvent(r.name, "stdin "+lag.Error()))
				continue
			}
			if c, ok := dst.(io.Closer); ok && r.step.Tty == nil {
				c.Close()
			}
			return
		}
		raw, err := rawInput(datum.Value)
		if err != nil {
			events.Send(types.ErrorEvent(r.name, "stdin: "+err.Error()))
			continue
		}
		if _, err := dst.Write(raw); err != nil {
			events.Send(types.ErrorEvent(r.name, "stdin: "+err.Error()))
			return
		}
	}
}

func (r *ProcessRunner) forwardInput(events *Sink) {
	defer r.wg.Done()
	for {
		datum, err := r.inRx.Recv()
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				events.Send(types.LogEvent(r.name, "in "+lag.Error()))
				continue
			}
			return
		}
		r.Publish("stdin", datum)
	}
}

// Publish feeds a datum into a reverse channel; only "stdin" accepts data.
func (r *ProcessRunner) Publish(channel string, datum types.Datum) error {
	if channel != "stdin" {
		return types.NewError(types.ErrConfiguration, "step %q: cannot publish to %q", r.name, channel)
	}
	r.stdin.Send(datum)
	return nil
}

func (r *ProcessRunner) Subscribe(channel string) (*broadcast.Receiver[types.Datum], error) {
	if r.done {
		return nil, types.NewError(types.ErrInternalInvariant, "step %q: subscribe after wait", r.name)
	}
	switch channel {
	case "stdout":
		return r.stdout.Subscribe(), nil
	case "stderr":
		if r.step.Tty != nil {
			return nil, types.NewError(types.ErrConfiguration,
				"step %q: stderr is not separately available in pty mode", r.name)
		}
		return r.stderr.Subscribe(), nil
	case "stdin":
		return nil, types.NewError(types.ErrConfiguration,
			"step %q: stdin is published to, not subscribed", r.name)
	case "wait":
		// Blocking action stream: the exit code arrives once the child is
		// reaped, then the stream closes.
		return r.waitCh.Subscribe(), nil
	case "check":
		// Non-blocking action stream: a snapshot of the current status at
		// subscription time ("-1" while the child still runs).
		ch := broadcast.New[types.Datum](1)
		ch.Send(r.CheckExitCode())
		ch.Close()
		return ch.Subscribe(), nil
	}
	return nil, types.NewError(types.ErrConfiguration, "step %q publishes no channel %q", r.name, channel)
}

// CheckExitCode reports the exit status without blocking: "-1" while the
// child runs or when it was signal-terminated.
func (r *ProcessRunner) CheckExitCode() types.Datum {
	select {
	case <-r.exited:
		return types.NewDatum(types.Bytes([]byte(strconv.Itoa(r.exitStatus()))))
	default:
		return types.NewDatum(types.Bytes([]byte("-1")))
	}
}

// WaitExitCode blocks until the child is reaped and returns its status.
func (r *ProcessRunner) WaitExitCode() types.Datum {
	<-r.exited
	return types.NewDatum(types.Bytes([]byte(strconv.Itoa(r.exitStatus()))))
}

func (r *ProcessRunner) exitStatus() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

func (r *ProcessRunner) reap(cmd *exec.Cmd) {
	r.reapOnce.Do(func() {
		code := -1
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		} else {
			code = 0
		}
		r.markExited(code)
	})
}

func (r *ProcessRunner) markExited(code int) {
	r.mu.Lock()
	r.state = procExited
	r.exitCode = code
	if r.ptyFile != nil {
		r.ptyFile.Close()
		r.ptyFile = nil
	}
	r.mu.Unlock()
	select {
	case <-r.exited:
	default:
		close(r.exited)
	}
	r.settleExit()
}

// settleExit publishes the settled exit code on the wait action stream and
// closes it.
func (r *ProcessRunner) settleExit() {
	r.settleOnce.Do(func() {
		r.waitCh.Send(types.NewDatum(types.Bytes([]byte(strconv.Itoa(r.exitStatus())))))
		r.waitCh.Close()
	})
}

// Kill terminates the child unconditionally; used on early teardown.
func (r *ProcessRunner) Kill() {
	r.mu.Lock()
	cmd := r.cmd
	state := r.state
	r.mu.Unlock()
	if state == procSpawned && cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Wait drives the runner to terminal quiescence. When the step was
// configured wait=false the child is signalled here before being reaped;
// otherwise it is joined as it exits on its own.
func (r *ProcessRunner) Wait() error {
	r.waitOnce.Do(func() {
		r.mu.Lock()
		started := r.state != procNotStarted
		r.mu.Unlock()

		// Closing stdin releases the stdin forwarder and, through the
		// closed pipe, lets well-behaved children finish.
		r.stdin.Close()

		if started {
			if !r.step.Wait {
				r.Kill()
			}
			<-r.exited
		} else {
			r.stdout.Close()
			r.stderr.Close()
			r.settleExit()
		}
		r.wg.Wait()
		r.done = true
	})
	return nil
}
