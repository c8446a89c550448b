package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/patui/pkg/types"
)

func startTransform(t *testing.T, flavour types.TransformFlavour) (*stubPeer, *TransformRunner, func() []types.Event, func() types.Datum) {
	t.Helper()
	peer := newStubPeer("test_input")
	r := NewTransformRunner("main", &types.TransformStreamStep{
		In:      "steps.test_input.out",
		Flavour: flavour,
	})
	require.NoError(t, r.Init(Peers{"test_input": peer}))

	rx, err := r.Subscribe("out")
	require.NoError(t, err)

	sink := NewSink(16)
	fetch := drainSink(sink)
	require.NoError(t, r.Run(sink))

	recv := func() types.Datum {
		datum, err, ok := recvTimeout(rx, time.Second)
		require.True(t, ok, "no transformed datum")
		require.NoError(t, err)
		return datum
	}
	return peer, r, fetch, recv
}

func TestTransformBytesToJSON(t *testing.T) {
	peer, r, fetch, recv := startTransform(t, types.FlavourJson)

	peer.out.Send(types.NewDatum(types.Bytes([]byte(`{"key": "value"}`))))

	datum := recv()
	assert.True(t, datum.Value.Equal(types.Map(map[string]types.Value{
		"key": types.String("value"),
	})), "got %s", datum.Value)

	peer.out.Close()
	require.NoError(t, r.Wait())
	fetch()
}

func TestTransformStringToJSON(t *testing.T) {
	peer, r, fetch, recv := startTransform(t, types.FlavourJson)

	peer.out.Send(types.NewDatum(types.String(`{"key": "value"}`)))

	datum := recv()
	assert.True(t, datum.Value.Equal(types.Map(map[string]types.Value{
		"key": types.String("value"),
	})))

	peer.out.Close()
	require.NoError(t, r.Wait())
	fetch()
}

func TestTransformBadJSONDropsDatumAndContinues(t *testing.T) {
	peer, r, fetch, recv := startTransform(t, types.FlavourJson)

	peer.out.Send(types.NewDatum(types.Bytes([]byte(`{not json`))))
	peer.out.Send(types.NewDatum(types.Bytes([]byte(`42`))))

	datum := recv()
	assert.True(t, datum.Value.Equal(types.Integer("42")))

	peer.out.Close()
	require.NoError(t, r.Wait())

	var failures int
	for _, e := range fetch() {
		if e.Kind == types.EventFailure {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestTransformUtf8(t *testing.T) {
	peer, r, fetch, recv := startTransform(t, types.FlavourUtf8)

	peer.out.Send(types.NewDatum(types.Bytes([]byte("héllo"))))
	datum := recv()
	assert.True(t, datum.Value.Equal(types.String("héllo")))

	peer.out.Close()
	require.NoError(t, r.Wait())
	fetch()
}

func TestTransformUtf8RejectsInvalidBytes(t *testing.T) {
	peer, r, fetch, _ := startTransform(t, types.FlavourUtf8)

	peer.out.Send(types.NewDatum(types.Bytes([]byte{0xff, 0xfe})))
	peer.out.Close()
	require.NoError(t, r.Wait())

	log := fetch()
	require.NotEmpty(t, log)
	assert.Equal(t, types.EventFailure, log[0].Kind)
}

func TestTransformUtf8LinesSplitsAndFlushesResidue(t *testing.T) {
	peer, r, fetch, recv := startTransform(t, types.FlavourUtf8Lines)

	peer.out.Send(types.NewDatum(types.Bytes([]byte("first li"))))
	peer.out.Send(types.NewDatum(types.Bytes([]byte("ne\nsecond\nresi"))))
	peer.out.Send(types.NewDatum(types.Bytes([]byte("due"))))

	assert.True(t, recv().Value.Equal(types.String("first line")))
	assert.True(t, recv().Value.Equal(types.String("second")))

	// The pending partial line flushes when the producer closes.
	peer.out.Close()
	assert.True(t, recv().Value.Equal(types.String("residue")))

	require.NoError(t, r.Wait())
	fetch()
}

func TestTransformYaml(t *testing.T) {
	peer, r, fetch, recv := startTransform(t, types.FlavourYaml)

	peer.out.Send(types.NewDatum(types.Bytes([]byte("key: value\nn: 3\n"))))
	datum := recv()
	assert.True(t, datum.Value.Equal(types.Map(map[string]types.Value{
		"key": types.String("value"),
		"n":   types.Integer("3"),
	})), "got %s", datum.Value)

	peer.out.Close()
	require.NoError(t, r.Wait())
	fetch()
}

func TestTransformToml(t *testing.T) {
	peer, r, fetch, recv := startTransform(t, types.FlavourToml)

	peer.out.Send(types.NewDatum(types.Bytes([]byte("key = \"value\"\nn = 3\n"))))
	datum := recv()
	assert.True(t, datum.Value.Equal(types.Map(map[string]types.Value{
		"key": types.String("value"),
		"n":   types.Integer("3"),
	})), "got %s", datum.Value)

	peer.out.Close()
	require.NoError(t, r.Wait())
	fetch()
}

func TestTransformRejectsNonTermInput(t *testing.T) {
	r := NewTransformRunner("main", &types.TransformStreamStep{
		In:      `"a literal"`,
		Flavour: types.FlavourJson,
	})
	err := r.Init(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.KindOf(err))
}

func TestTransformRejectsUnknownFlavour(t *testing.T) {
	r := NewTransformRunner("main", &types.TransformStreamStep{
		In:      "steps.test_input.out",
		Flavour: "csv",
	})
	err := r.Init(Peers{"test_input": newStubPeer("test_input")})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.KindOf(err))
}
