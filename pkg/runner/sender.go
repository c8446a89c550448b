package runner

import (
	"sync"
	"time"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// interItemPacing spaces out list emission so freshly-attached subscribers
// keep up with the ring.
const interItemPacing = time.Millisecond

// SenderRunner emits the evaluated literal of its expression on "out". A
// list literal is emitted element by element; any expression referring to
// step data is rejected at Init.
type SenderRunner struct {
	name string
	step *types.SenderStep

	expr   *expr.Expr
	values []types.Value // what Run will emit, resolved during Init
	out    *broadcast.Channel[types.Datum]

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     bool
}

// NewSenderRunner builds the runner; the output channel is live immediately.
func NewSenderRunner(name string, step *types.SenderStep) *SenderRunner {
	return &SenderRunner{
		name: name,
		step: step,
		out:  broadcast.New[types.Datum](senderChanCap),
	}
}

func (r *SenderRunner) Name() string { return r.name }

// Init parses and evaluates the literal. Idempotent.
func (r *SenderRunner) Init(peers Peers) error {
	if r.values != nil {
		return nil
	}
	e, err := parseStepExpr(r.name, r.step.Expr)
	if err != nil {
		return err
	}
	r.expr = e

	if lit, ok := e.Kind.(expr.Lit); ok {
		if list, ok := lit.Kind.(expr.ListLit); ok {
			for _, el := range list {
				v, err := expr.EvalLiteral(el)
				if err != nil {
					return types.WrapError(types.ErrConfiguration, err,
						"step %q: list element %q", r.name, el.Raw)
				}
				r.values = append(r.values, v)
			}
			if r.values == nil {
				r.values = []types.Value{}
			}
			return nil
		}
	}

	v, err := expr.EvalLiteral(e)
	if err != nil {
		return types.WrapError(types.ErrConfiguration, err,
			"step %q: sender needs a literal expression", r.name)
	}
	r.values = []types.Value{v}
	return nil
}

func (r *SenderRunner) Run(events *Sink) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for i, v := range r.values {
			if i > 0 {
				time.Sleep(interItemPacing)
			}
			r.out.Send(types.NewDatum(v))
			events.Send(sampleEvent(r.name, v))
		}
	}()
	return nil
}

func (r *SenderRunner) Subscribe(channel string) (*broadcast.Receiver[types.Datum], error) {
	if r.done {
		return nil, types.NewError(types.ErrInternalInvariant, "step %q: subscribe after wait", r.name)
	}
	if channel != "out" {
		return nil, types.NewError(types.ErrConfiguration, "step %q publishes no channel %q", r.name, channel)
	}
	return r.out.Subscribe(), nil
}

func (r *SenderRunner) Wait() error {
	r.waitOnce.Do(func() {
		r.wg.Wait()
		r.out.Close()
		r.done = true
	})
	return nil
}

// sampleEvent renders a produced value into the event log: raw bytes and
// strings are sampled verbatim, everything else via display form.
func sampleEvent(step string, v types.Value) types.Event {
	switch v.Kind() {
	case types.KindBytes:
		b, _ := v.AsBytes()
		return types.BytesEvent(step, b)
	case types.KindString:
		s, _ := v.AsString()
		return types.BytesEvent(step, []byte(s))
	}
	return types.LogEvent(step, "sent "+v.String())
}
