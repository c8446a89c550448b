package runner

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// readChunkSize bounds file read chunks forwarded as Bytes data.
const readChunkSize = 4096

// ReadRunner streams data onto "out" from one of two sources: an upstream
// channel named by a term, or a file named by a string literal. Any other
// expression shape is a Configuration failure at Init.
type ReadRunner struct {
	name string
	step *types.ReadStep

	in       *expr.Expr
	upstream *broadcast.Receiver[types.Datum]
	path     string
	out      *broadcast.Channel[types.Datum]

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     bool
}

// NewReadRunner builds the runner; the output channel is live immediately.
func NewReadRunner(name string, step *types.ReadStep) *ReadRunner {
	return &ReadRunner{
		name: name,
		step: step,
		out:  broadcast.New[types.Datum](passthroughChanCap),
	}
}

func (r *ReadRunner) Name() string { return r.name }

func (r *ReadRunner) Init(peers Peers) error {
	if r.upstream != nil || r.path != "" {
		return nil
	}
	e, err := parseStepExpr(r.name, r.step.In)
	if err != nil {
		return err
	}
	r.in = e

	switch kind := e.Kind.(type) {
	case expr.Term:
		receivers, err := subscribeTerms([]*expr.Expr{e}, r.name, peers)
		if err != nil {
			return err
		}
		key, ok := kind.SubscriptionKey()
		if !ok {
			return types.NewError(types.ErrConfiguration,
				"step %q: %q does not name step data", r.name, e.Raw)
		}
		r.upstream = receivers[key]
		return nil
	case expr.Lit:
		if s, ok := kind.Kind.(expr.StrLit); ok {
			r.path = string(s)
			return nil
		}
	}
	return types.NewError(types.ErrConfiguration,
		"step %q: read source must be a term or a file path, got %q", r.name, e.Raw)
}

func (r *ReadRunner) Run(events *Sink) error {
	r.wg.Add(1)
	if r.upstream != nil {
		go r.forwardUpstream(events)
	} else {
		go r.streamFile(events)
	}
	return nil
}

func (r *ReadRunner) forwardUpstream(events *Sink) {
	defer r.wg.Done()
	for {
		datum, err := r.upstream.Recv()
		if err != nil {
			var lag *broadcast.LagError
			if errors.As(err, &lag) {
				events.Send(types.LogEvent(r.name, lag.Error()))
				continue
			}
			return // upstream closed
		}
		r.out.Send(datum)
		events.Send(sampleEvent(r.name, datum.Value))
	}
}

func (r *ReadRunner) streamFile(events *Sink) {
	defer r.wg.Done()
	f, err := os.Open(r.path)
	if err != nil {
		events.Send(types.ErrorEvent(r.name, types.WrapError(types.ErrExternal, err, "open %q", r.path).Error()))
		return
	}
	defer f.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := append([]byte{}, buf[:n]...)
			r.out.Send(types.NewDatum(types.Bytes(chunk)))
			events.Send(types.BytesEvent(r.name, chunk))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				events.Send(types.ErrorEvent(r.name, types.WrapError(types.ErrExternal, err, "read %q", r.path).Error()))
			}
			return
		}
	}
}

func (r *ReadRunner) Subscribe(channel string) (*broadcast.Receiver[types.Datum], error) {
	if r.done {
		return nil, types.NewError(types.ErrInternalInvariant, "step %q: subscribe after wait", r.name)
	}
	if channel != "out" {
		return nil, types.NewError(types.ErrConfiguration, "step %q publishes no channel %q", r.name, channel)
	}
	return r.out.Subscribe(), nil
}

func (r *ReadRunner) Wait() error {
	r.waitOnce.Do(func() {
		r.wg.Wait()
		r.out.Close()
		r.done = true
	})
	return nil
}
