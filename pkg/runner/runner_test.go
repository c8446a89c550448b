package runner

import (
	"time"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/types"
)

// stubPeer publishes a pre-wired "out" channel so runner tests can feed
// upstream data without a full producer step.
type stubPeer struct {
	name string
	out  *broadcast.Channel[types.Datum]
}

func newStubPeer(name string) *stubPeer {
	return &stubPeer{name: name, out: broadcast.New[types.Datum](32)}
}

func (s *stubPeer) Name() string           { return s.name }
func (s *stubPeer) Init(peers Peers) error { return nil }
func (s *stubPeer) Run(events *Sink) error { return nil }
func (s *stubPeer) Wait() error            { return nil }

func (s *stubPeer) Subscribe(channel string) (*broadcast.Receiver[types.Datum], error) {
	if channel != "out" {
		return nil, types.NewError(types.ErrConfiguration, "stub publishes no channel %q", channel)
	}
	return s.out.Subscribe(), nil
}

// drainSink collects events in the background and returns a fetcher that
// stops collection and hands the log over.
func drainSink(sink *Sink) func() []types.Event {
	done := make(chan struct{})
	var log []types.Event
	go func() {
		defer close(done)
		for e := range sink.Events() {
			log = append(log, e)
		}
	}()
	return func() []types.Event {
		sink.Close()
		<-done
		return log
	}
}

// recvTimeout receives one datum or fails the surrounding assertion by
// returning ok=false.
func recvTimeout(rx *broadcast.Receiver[types.Datum], d time.Duration) (types.Datum, error, bool) {
	type result struct {
		datum types.Datum
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		datum, err := rx.Recv()
		ch <- result{datum, err}
	}()
	select {
	case res := <-ch:
		return res.datum, res.err, true
	case <-time.After(d):
		return types.Datum{}, nil, false
	}
}
