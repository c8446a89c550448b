package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/types"
)

func TestSenderSingleLiteral(t *testing.T) {
	r := NewSenderRunner("input", &types.SenderStep{Expr: `b"ABC"`})
	require.NoError(t, r.Init(nil))

	rx, err := r.Subscribe("out")
	require.NoError(t, err)

	sink := NewSink(8)
	fetch := drainSink(sink)
	require.NoError(t, r.Run(sink))
	require.NoError(t, r.Wait())

	datum, err := rx.Recv()
	require.NoError(t, err)
	assert.True(t, datum.Value.Equal(types.Bytes([]byte("ABC"))))

	_, err = rx.Recv()
	assert.ErrorIs(t, err, broadcast.ErrClosed)

	log := fetch()
	require.Len(t, log, 1)
	assert.Equal(t, types.EventBytes, log[0].Kind)
	assert.Equal(t, []byte("ABC"), log[0].Data)
}

func TestSenderListEmitsElementsInOrder(t *testing.T) {
	r := NewSenderRunner("input", &types.SenderStep{Expr: `[b"123", b"abc", b"ABC"]`})
	require.NoError(t, r.Init(nil))

	rx, err := r.Subscribe("out")
	require.NoError(t, err)

	sink := NewSink(8)
	fetch := drainSink(sink)
	require.NoError(t, r.Run(sink))
	require.NoError(t, r.Wait())

	for _, want := range [][]byte{[]byte("123"), []byte("abc"), []byte("ABC")} {
		datum, err := rx.Recv()
		require.NoError(t, err)
		assert.True(t, datum.Value.Equal(types.Bytes(want)))
	}
	_, err = rx.Recv()
	assert.ErrorIs(t, err, broadcast.ErrClosed)
	fetch()
}

func TestSenderEmptyListClosesWithoutData(t *testing.T) {
	r := NewSenderRunner("input", &types.SenderStep{Expr: `[]`})
	require.NoError(t, r.Init(nil))

	rx, err := r.Subscribe("out")
	require.NoError(t, err)

	sink := NewSink(8)
	fetch := drainSink(sink)
	require.NoError(t, r.Run(sink))
	require.NoError(t, r.Wait())

	_, err = rx.Recv()
	assert.ErrorIs(t, err, broadcast.ErrClosed)
	assert.Empty(t, fetch())
}

func TestSenderTimestampsNonDecreasing(t *testing.T) {
	r := NewSenderRunner("input", &types.SenderStep{Expr: `[1, 2, 3]`})
	require.NoError(t, r.Init(nil))
	rx, err := r.Subscribe("out")
	require.NoError(t, err)

	sink := NewSink(8)
	fetch := drainSink(sink)
	require.NoError(t, r.Run(sink))
	require.NoError(t, r.Wait())
	fetch()

	var last types.Datum
	for i := 0; ; i++ {
		datum, err := rx.Recv()
		if errors.Is(err, broadcast.ErrClosed) {
			break
		}
		require.NoError(t, err)
		if i > 0 {
			assert.False(t, datum.Timestamp.Before(last.Timestamp))
		}
		last = datum
	}
}

func TestSenderRejectsNonLiteral(t *testing.T) {
	r := NewSenderRunner("input", &types.SenderStep{Expr: `steps.other.out[0]`})
	err := r.Init(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.KindOf(err))
}

func TestSenderRejectsMalformedExpression(t *testing.T) {
	r := NewSenderRunner("input", &types.SenderStep{Expr: `b"unterminated`})
	err := r.Init(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrParse, types.KindOf(err))
}

func TestSenderSubscribeUnknownChannel(t *testing.T) {
	r := NewSenderRunner("input", &types.SenderStep{Expr: `1`})
	require.NoError(t, r.Init(nil))
	_, err := r.Subscribe("nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.KindOf(err))
}
