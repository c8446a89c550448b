package runner

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/types"
)

// buildTestPlugin compiles the reference plugin once per test run.
func buildTestPlugin(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("building the reference plugin is skipped in -short mode")
	}
	bin := filepath.Join(t.TempDir(), "patui-test-plugin")
	cmd := exec.Command("go", "build", "-o", bin,
		"github.com/ormasoftchile/patui/cmd/patui-test-plugin")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Skipf("cannot build reference plugin: %v\n%s", err, out)
	}
	return bin
}

func TestPluginStreamsFiveValues(t *testing.T) {
	bin := buildTestPlugin(t)

	r := NewPluginRunner("plug", &types.PluginStep{Path: bin})
	require.NoError(t, r.Init(nil))
	t.Cleanup(r.Kill)

	rx, err := r.Subscribe("out")
	require.NoError(t, err)

	sink := NewSink(16)
	fetch := drainSink(sink)
	require.NoError(t, r.Run(sink))

	want := []types.Value{
		types.Null(),
		types.Bool(true),
		types.String("test"),
		types.Array(types.Integer("1"), types.Integer("2"), types.Integer("3")),
		types.Map(map[string]types.Value{"a": types.Integer("1"), "b": types.Integer("2")}),
	}
	for i, w := range want {
		datum, err, ok := recvTimeout(rx, 10*time.Second)
		require.True(t, ok, "value %d never arrived", i)
		require.NoError(t, err)
		assert.True(t, datum.Value.Equal(w), "value %d: got %s want %s", i, datum.Value, w)
	}

	require.NoError(t, r.Wait())

	_, err = rx.Recv()
	assert.ErrorIs(t, err, broadcast.ErrClosed)
	fetch()
}

func TestPluginNeverConnectsFailsInit(t *testing.T) {
	// A binary that exists but never opens the port: sleep does not
	// understand --port and exits without listening.
	r := NewPluginRunner("plug", &types.PluginStep{Path: "sleep"})
	err := r.Init(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrExternal, types.KindOf(err))
	r.Kill()
}

func TestPluginMissingBinaryFailsInit(t *testing.T) {
	r := NewPluginRunner("plug", &types.PluginStep{Path: "/no/such/plugin"})
	err := r.Init(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrExternal, types.KindOf(err))
}
