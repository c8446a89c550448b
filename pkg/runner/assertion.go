package runner

import (
	"errors"
	"sync"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// AssertionRunner evaluates one boolean expression over term subscriptions
// as data streams in. The shared results map is the only RW-locked
// structure in the runtime; forwarder tasks append under the write lock and
// nudge the evaluator, which snapshots under the read lock.
//
// Verdicts are monotonic: a Known true locks a pass, a Known false reports
// failure and stops evaluation, a Predictable value is buffered and
// promoted to Known once every dependency stream closes, and closure with
// nothing settled is the "insufficient data" failure.
type AssertionRunner struct {
	name string
	step *types.AssertionStep

	expr      *expr.Expr
	receivers map[expr.TermKey]*broadcast.Receiver[types.Datum]

	resultsMu sync.RWMutex
	results   expr.Results

	verdict     chan verdict // closed by the evaluator with the outcome
	wg          sync.WaitGroup
	waitOnce    sync.Once
	passedFinal bool
	done        bool
}

type verdict struct {
	passed  bool
	message string
	isError bool
}

// NewAssertionRunner builds the runner.
func NewAssertionRunner(name string, step *types.AssertionStep) *AssertionRunner {
	return &AssertionRunner{
		name:    name,
		step:    step,
		results: expr.Results{},
		verdict: make(chan verdict, 1),
	}
}

func (r *AssertionRunner) Name() string { return r.name }

// Init parses the expression and subscribes to every term it depends on.
func (r *AssertionRunner) Init(peers Peers) error {
	if r.receivers != nil {
		return nil
	}
	e, err := parseStepExpr(r.name, r.step.Expr)
	if err != nil {
		return err
	}
	receivers, err := subscribeTerms([]*expr.Expr{e}, r.name, peers)
	if err != nil {
		return err
	}
	r.expr = e
	r.receivers = receivers
	for key := range receivers {
		r.results[key] = nil
	}
	return nil
}

func (r *AssertionRunner) Run(events *Sink) error {
	// Coalescing notifier: a pending nudge is enough, forwarders never
	// block on it.
	notify := make(chan struct{}, 1)

	var forwarders sync.WaitGroup
	for key, rx := range r.receivers {
		forwarders.Add(1)
		r.wg.Add(1)
		go func(key expr.TermKey, rx *broadcast.Receiver[types.Datum]) {
			defer r.wg.Done()
			defer forwarders.Done()
			for {
				datum, err := rx.Recv()
				if err != nil {
					var lag *broadcast.LagError
					if errors.As(err, &lag) {
						events.Send(types.LogEvent(r.name, string(key)+" "+lag.Error()))
						continue
					}
					return
				}
				r.resultsMu.Lock()
				r.results[key] = append(r.results[key], datum)
				r.resultsMu.Unlock()
				select {
				case notify <- struct{}{}:
				default:
				}
			}
		}(key, rx)
	}

	// Close the notifier once every dependency stream has closed; the
	// evaluator then settles whatever is still pending.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		forwarders.Wait()
		close(notify)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.evaluate(notify, events)
	}()
	return nil
}

// evaluate drives the three-valued loop described in the package comment.
func (r *AssertionRunner) evaluate(notify <-chan struct{}, events *Sink) {
	defer close(r.verdict)

	for range notify {
		res, err := expr.Eval(r.expr, r.snapshot())
		if err != nil {
			r.report(events, verdict{passed: false, message: "Assertion failure: " + err.Error()})
			return
		}
		switch res.Certainty {
		case expr.Known:
			r.settle(events, res.Value)
			return
		case expr.Predictable, expr.Unknown:
			// Revisited on the next notification, or settled on closure.
		}
	}

	// All upstreams closed without a Known verdict: one final evaluation
	// over the complete data, promoting Predictable to Known.
	res, err := expr.Eval(r.expr, r.snapshot())
	if err != nil {
		r.report(events, verdict{passed: false, message: "Assertion failure: " + err.Error()})
		return
	}
	if res.Certainty == expr.Unknown {
		r.report(events, verdict{passed: false,
			message: "Assertion failed: insufficient data for " + r.expr.Raw})
		return
	}
	r.settle(events, res.Value)
}

func (r *AssertionRunner) settle(events *Sink, v types.Value) {
	b, err := v.AsBool()
	if err != nil {
		r.report(events, verdict{isError: true,
			message: "Assertion evaluated to non-boolean " + v.Kind().String() + ": " + r.expr.Raw})
		return
	}
	if b {
		r.report(events, verdict{passed: true, message: "Assertion passed: " + r.expr.Raw})
		return
	}
	r.report(events, verdict{message: "Assertion failed: " + r.expr.Raw})
}

func (r *AssertionRunner) report(events *Sink, v verdict) {
	switch {
	case v.isError:
		events.Send(types.ErrorEvent(r.name, v.message))
	case v.passed:
		events.Send(types.LogEvent(r.name, v.message))
	default:
		events.Send(types.FailureEvent(r.name, v.message))
	}
	r.verdict <- v
}

func (r *AssertionRunner) snapshot() expr.Results {
	r.resultsMu.RLock()
	defer r.resultsMu.RUnlock()
	snap := make(expr.Results, len(r.results))
	for k, seq := range r.results {
		snap[k] = append([]types.Datum{}, seq...)
	}
	return snap
}

func (r *AssertionRunner) Subscribe(channel string) (*broadcast.Receiver[types.Datum], error) {
	return nil, types.NewError(types.ErrConfiguration, "step %q publishes no channels", r.name)
}

// Wait joins the evaluator and forwarders and records the final verdict.
func (r *AssertionRunner) Wait() error {
	r.waitOnce.Do(func() {
		if v, ok := <-r.verdict; ok {
			r.passedFinal = v.passed
		}
		r.wg.Wait()
		r.done = true
	})
	return nil
}

// Passed reports the settled verdict; valid after Wait.
func (r *AssertionRunner) Passed() bool { return r.passedFinal }
