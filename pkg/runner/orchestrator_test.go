package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/patui/pkg/types"
)

func runTest(t *testing.T, test *types.Test) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := RunTest(ctx, test)
	require.NoError(t, err)
	return res
}

func TestRunSenderAssertionPasses(t *testing.T) {
	res := runTest(t, &types.Test{
		Name: "sender literal passes equality",
		Steps: []types.Step{
			{Name: "input", Sender: &types.SenderStep{Expr: `b"ABC"`}},
			{Name: "a", Assertion: &types.AssertionStep{Expr: `steps.input.out[0] == b"ABC"`}},
		},
	})

	assert.True(t, res.Passed, "reason: %s", res.Reason)
	var passed bool
	for _, e := range res.Events {
		if e.Kind == types.EventLog && e.Step == "a" {
			passed = true
		}
	}
	assert.True(t, passed, "no assertion pass event in %v", res.Events)
}

func TestRunSenderAssertionFails(t *testing.T) {
	res := runTest(t, &types.Test{
		Name: "sender literal fails equality",
		Steps: []types.Step{
			{Name: "input", Sender: &types.SenderStep{Expr: `b"ABC"`}},
			{Name: "a", Assertion: &types.AssertionStep{Expr: `steps.input.out[0] == null`}},
		},
	})

	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Reason)
	var failed bool
	for _, e := range res.Events {
		if e.Kind == types.EventFailure && e.Step == "a" {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestRunReadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	content := "Hello, World!\nStuffmore\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res := runTest(t, &types.Test{
		Name: "read file",
		Steps: []types.Step{
			{Name: "r", Read: &types.ReadStep{In: `"` + path + `"`}},
		},
	})

	// No assertions: the run passes and the file content is sampled.
	assert.True(t, res.Passed, "reason: %s", res.Reason)
	var got []byte
	for _, e := range res.Events {
		if e.Kind == types.EventBytes && e.Step == "r" {
			got = append(got, e.Data...)
		}
	}
	assert.Equal(t, content, string(got))
}

func TestRunTransformJSONPipeline(t *testing.T) {
	res := runTest(t, &types.Test{
		Name: "bytes to json",
		Steps: []types.Step{
			{Name: "src", Sender: &types.SenderStep{Expr: `b"{\"key\":\"value\"}"`}},
			{Name: "t", TransformStream: &types.TransformStreamStep{
				In: "steps.src.out", Flavour: types.FlavourJson,
			}},
			{Name: "a", Assertion: &types.AssertionStep{
				Expr: `steps.t.out[0] == {"key": "value"}`,
			}},
		},
	})

	assert.True(t, res.Passed, "reason: %s", res.Reason)
}

func TestRunProcessExitCodeAssertion(t *testing.T) {
	t.Setenv("PATUI_TEST_HELPER", "exit7")
	res := runTest(t, &types.Test{
		Name: "exit code observed",
		Steps: []types.Step{
			{Name: "p", Process: &types.ProcessStep{Command: os.Args[0], Wait: true}},
			{Name: "a", Assertion: &types.AssertionStep{Expr: `steps.p.wait("exit_code") == b"7"`}},
		},
	})
	assert.True(t, res.Passed, "reason: %s", res.Reason)
}

func TestRunInitFailureAbortsBeforeRun(t *testing.T) {
	_, err := RunTest(context.Background(), &types.Test{
		Name: "bad term",
		Steps: []types.Step{
			{Name: "a", Assertion: &types.AssertionStep{Expr: "steps.ghost.out[0] == 1"}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.KindOf(err))
}

func TestRunWhenSkipsStep(t *testing.T) {
	res := runTest(t, &types.Test{
		Name: "skipped sender",
		Steps: []types.Step{
			{Name: "input", When: "false", Sender: &types.SenderStep{Expr: `b"ABC"`}},
		},
	})
	assert.True(t, res.Passed)
	assert.Empty(t, res.Events)
}

func TestRunDependencyCycleRejected(t *testing.T) {
	_, err := RunTest(context.Background(), &types.Test{
		Name: "cycle",
		Steps: []types.Step{
			{Name: "a", DependsOn: []string{"b"}, Sender: &types.SenderStep{Expr: "1"}},
			{Name: "b", DependsOn: []string{"a"}, Sender: &types.SenderStep{Expr: "2"}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.KindOf(err))
}

func TestRunDependencyOrder(t *testing.T) {
	order, err := dependencyOrder([]types.Step{
		{Name: "c", DependsOn: []string{"a", "b"}},
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunMultipleAssertions(t *testing.T) {
	res := runTest(t, &types.Test{
		Name: "two assertions",
		Steps: []types.Step{
			{Name: "input", Sender: &types.SenderStep{Expr: `[1, 2, 3]`}},
			{Name: "first", Assertion: &types.AssertionStep{Expr: `steps.input.out[0] == 1`}},
			{Name: "all", Assertion: &types.AssertionStep{Expr: `steps.input.out.len() == 3`}},
		},
	})
	assert.True(t, res.Passed, "reason: %s", res.Reason)
}

func TestRunOneFailingAssertionFailsRun(t *testing.T) {
	res := runTest(t, &types.Test{
		Name: "one of two fails",
		Steps: []types.Step{
			{Name: "input", Sender: &types.SenderStep{Expr: `[1, 2]`}},
			{Name: "good", Assertion: &types.AssertionStep{Expr: `steps.input.out[0] == 1`}},
			{Name: "bad", Assertion: &types.AssertionStep{Expr: `steps.input.out[1] == 99`}},
		},
	})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "bad")
}
