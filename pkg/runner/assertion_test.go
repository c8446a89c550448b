package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/patui/pkg/types"
)

func startAssertion(t *testing.T, exprSrc string, peers Peers) (*AssertionRunner, func() []types.Event) {
	t.Helper()
	r := NewAssertionRunner("a", &types.AssertionStep{Expr: exprSrc})
	require.NoError(t, r.Init(peers))

	sink := NewSink(16)
	fetch := drainSink(sink)
	require.NoError(t, r.Run(sink))
	return r, fetch
}

func waitDone(t *testing.T, r *AssertionRunner) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("assertion runner did not reach a verdict")
	}
}

func TestAssertionPassesOnKnownTrue(t *testing.T) {
	peer := newStubPeer("test_input")
	r, fetch := startAssertion(t, `steps.test_input.out[0] == null`, Peers{"test_input": peer})

	peer.out.Send(types.NewDatum(types.Null()))
	peer.out.Close()
	waitDone(t, r)

	assert.True(t, r.Passed())
	log := fetch()
	require.NotEmpty(t, log)
	assert.Equal(t, types.EventLog, log[0].Kind)
	assert.Contains(t, log[0].Message, "Assertion passed")
}

func TestAssertionFailsOnKnownFalse(t *testing.T) {
	peer := newStubPeer("test_input")
	r, fetch := startAssertion(t, `steps.test_input.out[0] == null`, Peers{"test_input": peer})

	peer.out.Send(types.NewDatum(types.Bytes([]byte("ABC"))))
	peer.out.Close()
	waitDone(t, r)

	assert.False(t, r.Passed())
	log := fetch()
	require.NotEmpty(t, log)
	assert.Equal(t, types.EventFailure, log[0].Kind)
	assert.Contains(t, log[0].Message, "Assertion failed")
}

func TestAssertionVerdictBeforeUpstreamCloses(t *testing.T) {
	// A Known verdict settles while the producer is still open.
	peer := newStubPeer("test_input")
	r := NewAssertionRunner("a", &types.AssertionStep{Expr: `steps.test_input.out[0] == b"ABC"`})
	require.NoError(t, r.Init(Peers{"test_input": peer}))

	sink := NewSink(16)
	require.NoError(t, r.Run(sink))

	peer.out.Send(types.NewDatum(types.Bytes([]byte("ABC"))))

	select {
	case e := <-sink.Events():
		assert.Equal(t, types.EventLog, e.Kind)
		assert.Contains(t, e.Message, "Assertion passed")
	case <-time.After(2 * time.Second):
		t.Fatal("no verdict while the producer was still open")
	}

	peer.out.Close()
	waitDone(t, r)
	assert.True(t, r.Passed())
}

func TestAssertionPredictablePromotedOnClosure(t *testing.T) {
	peer := newStubPeer("test_input")
	r, fetch := startAssertion(t, `steps.test_input.out.len() == 2`, Peers{"test_input": peer})

	peer.out.Send(types.NewDatum(types.Integer("1")))
	peer.out.Send(types.NewDatum(types.Integer("2")))
	peer.out.Close()
	waitDone(t, r)

	assert.True(t, r.Passed())
	fetch()
}

func TestAssertionInsufficientData(t *testing.T) {
	peer := newStubPeer("test_input")
	r, fetch := startAssertion(t, `steps.test_input.out[5] == 1`, Peers{"test_input": peer})

	peer.out.Send(types.NewDatum(types.Integer("1")))
	peer.out.Close()
	waitDone(t, r)

	assert.False(t, r.Passed())
	log := fetch()
	require.NotEmpty(t, log)
	assert.Equal(t, types.EventFailure, log[0].Kind)
	assert.Contains(t, log[0].Message, "insufficient data")
}

func TestAssertionNonBooleanIsError(t *testing.T) {
	peer := newStubPeer("test_input")
	r, fetch := startAssertion(t, `steps.test_input.out[0]`, Peers{"test_input": peer})

	peer.out.Send(types.NewDatum(types.Integer("7")))
	peer.out.Close()
	waitDone(t, r)

	assert.False(t, r.Passed())
	log := fetch()
	require.NotEmpty(t, log)
	assert.Equal(t, types.EventError, log[0].Kind)
}

func TestAssertionUnresolvedTermFailsInit(t *testing.T) {
	r := NewAssertionRunner("a", &types.AssertionStep{Expr: "steps.ghost.out[0] == 1"})
	err := r.Init(Peers{})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.KindOf(err))
}

func TestAssertionMultipleSubscriptions(t *testing.T) {
	left := newStubPeer("left")
	right := newStubPeer("right")
	r, fetch := startAssertion(t, `steps.left.out[0] == steps.right.out[0]`,
		Peers{"left": left, "right": right})

	left.out.Send(types.NewDatum(types.String("same")))
	right.out.Send(types.NewDatum(types.String("same")))
	left.out.Close()
	right.out.Close()
	waitDone(t, r)

	assert.True(t, r.Passed())
	fetch()
}
