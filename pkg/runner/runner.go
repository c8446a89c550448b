// Package runner executes a test: one concurrent runner per step kind, all
// publishing to broadcast channels and reporting into a single event sink,
// plus the orchestrator that builds the graph, drives the lifecycle and
// decides the verdict.
package runner

import (
	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// Default ring capacities. Eagerly-consumed passthrough channels keep a
// one-slot ring; producer-paced channels get headroom. A full ring never
// blocks the producer: the oldest value is overwritten and a subscriber that
// falls behind observes a lag.
const (
	senderChanCap      = 32
	passthroughChanCap = 1
	pluginChanCap      = 32
)

// Runner is the lifecycle contract every step kind implements.
//
// Init resolves subscriptions against peers and prepares external resources;
// it must be idempotent and fails with the Configuration kind on unresolved
// terms or missing channels. Run spawns the runner's tasks and returns
// immediately; output channels are live from construction. Subscribe
// attaches to a named output channel any time between construction and
// Wait (plugin runners, whose channels live on the remote side, only after
// Init). Wait blocks until terminal quiescence, joins owned tasks and closes
// outputs; Subscribe fails afterwards.
type Runner interface {
	Name() string
	Init(peers Peers) error
	Run(events *Sink) error
	Subscribe(channel string) (*broadcast.Receiver[types.Datum], error)
	Wait() error
}

// Killer is implemented by runners owning external processes; Kill releases
// them unconditionally when a run is torn down early.
type Killer interface {
	Kill()
}

// Peers is the set of constructed runners a step may subscribe to, keyed by
// step name.
type Peers map[string]Runner

// Sink is the bounded mpsc funnel every runner reports events into. Arrival
// order defines the run's total event order.
type Sink struct {
	ch chan types.Event
}

// NewSink creates a sink buffering up to capacity events.
func NewSink(capacity int) *Sink {
	if capacity < 1 {
		capacity = 1
	}
	return &Sink{ch: make(chan types.Event, capacity)}
}

// Send reports one event. It blocks when the collector lags, preserving
// ordering over loss.
func (s *Sink) Send(e types.Event) {
	s.ch <- e
}

// Events exposes the receive side to the collector.
func (s *Sink) Events() <-chan types.Event {
	return s.ch
}

// Close ends the stream once every producer is done.
func (s *Sink) Close() {
	close(s.ch)
}

// subscribeTerms resolves every `steps.X.Y` reference of the given
// expressions by subscribing to peer X's channel Y. A reference to an
// unknown step, to the subscribing step itself, or to a channel the peer
// does not publish is a Configuration error.
func subscribeTerms(exprs []*expr.Expr, self string, peers Peers) (map[expr.TermKey]*broadcast.Receiver[types.Datum], error) {
	receivers := map[expr.TermKey]*broadcast.Receiver[types.Datum]{}
	for _, e := range exprs {
		for _, key := range expr.SubscriptionKeys(e) {
			if _, done := receivers[key]; done {
				continue
			}
			step, channel, ok := key.StepAndChannel()
			if !ok {
				return nil, types.NewError(types.ErrConfiguration, "malformed term key %q", string(key))
			}
			if step == self {
				return nil, types.NewError(types.ErrConfiguration, "step %q subscribes to itself", self)
			}
			peer, ok := peers[step]
			if !ok {
				return nil, types.NewError(types.ErrConfiguration,
					"step %q refers to unknown step %q", self, step)
			}
			rx, err := peer.Subscribe(channel)
			if err != nil {
				return nil, err
			}
			receivers[key] = rx
		}
	}
	return receivers, nil
}

// parseStepExpr parses an expression out of a step definition, tagging
// failures with the step for diagnostics.
func parseStepExpr(step, src string) (*expr.Expr, error) {
	e, err := expr.Parse(src)
	if err != nil {
		return nil, types.WrapError(types.ErrParse, err, "step %q", step)
	}
	return e, nil
}
