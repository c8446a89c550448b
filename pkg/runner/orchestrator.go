package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// eventSinkCap buffers the run's event funnel.
const eventSinkCap = 256

// NewStepRunner constructs the runner for a step's detail kind.
func NewStepRunner(step *types.Step) (Runner, error) {
	if err := step.Validate(); err != nil {
		return nil, err
	}
	switch {
	case step.Sender != nil:
		return NewSenderRunner(step.Name, step.Sender), nil
	case step.Read != nil:
		return NewReadRunner(step.Name, step.Read), nil
	case step.TransformStream != nil:
		return NewTransformRunner(step.Name, step.TransformStream), nil
	case step.Process != nil:
		return NewProcessRunner(step.Name, step.Process), nil
	case step.Plugin != nil:
		return NewPluginRunner(step.Name, step.Plugin), nil
	case step.Assertion != nil:
		return NewAssertionRunner(step.Name, step.Assertion), nil
	}
	return nil, types.NewError(types.ErrConfiguration, "step %q has no runnable details", step.Name)
}

// Result is the outcome of one test run: the verdict plus the totally
// ordered event log.
type Result struct {
	Passed bool
	Reason string // the first fatal event's message when failed
	Events []types.Event
}

// Orchestrator builds the runner graph for a test, drives every runner
// through init/run/wait, funnels their events and decides the verdict.
type Orchestrator struct {
	test    *types.Test
	peers   Peers
	order   []string // step order after dependency sorting
	skipped map[string]bool
}

// NewOrchestrator validates the test and constructs (but does not init) all
// runners.
func NewOrchestrator(test *types.Test) (*Orchestrator, error) {
	if err := test.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		test:    test,
		peers:   Peers{},
		skipped: map[string]bool{},
	}

	order, err := dependencyOrder(test.Steps)
	if err != nil {
		return nil, err
	}
	o.order = order

	for i := range test.Steps {
		step := &test.Steps[i]
		if skip, err := o.evalWhen(step); err != nil {
			return nil, err
		} else if skip {
			o.skipped[step.Name] = true
			continue
		}
		r, err := NewStepRunner(step)
		if err != nil {
			return nil, err
		}
		o.peers[step.Name] = r
	}
	return o, nil
}

// evalWhen decides a step's precondition. When expressions are literal
// predicates evaluated before the run starts.
func (o *Orchestrator) evalWhen(step *types.Step) (bool, error) {
	if step.When == "" {
		return false, nil
	}
	e, err := parseStepExpr(step.Name, step.When)
	if err != nil {
		return false, err
	}
	v, err := expr.EvalLiteral(e)
	if err != nil {
		return false, types.WrapError(types.ErrConfiguration, err, "step %q: when", step.Name)
	}
	b, err := v.AsBool()
	if err != nil {
		return false, types.NewError(types.ErrConfiguration,
			"step %q: when must be boolean, got %s", step.Name, v.Kind())
	}
	return !b, nil
}

// Run executes the test to completion (or context cancellation) and returns
// the verdict with the collated event log.
//
// All runners are constructed and init-ed before any run: subscribers
// attach during init, so producers can emit from run without racing
// subscription setup. Any init failure aborts the whole run.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	for _, name := range o.order {
		if o.skipped[name] {
			continue
		}
		if err := o.peers[name].Init(o.peers); err != nil {
			o.killAll()
			return nil, err
		}
	}

	sink := NewSink(eventSinkCap)

	var log []types.Event
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range sink.Events() {
			log = append(log, e)
		}
	}()

	for _, name := range o.order {
		if o.skipped[name] {
			continue
		}
		if err := o.peers[name].Run(sink); err != nil {
			sink.Send(types.ErrorEvent(name, err.Error()))
		}
	}

	var wg sync.WaitGroup
	for name, r := range o.peers {
		wg.Add(1)
		go func(name string, r Runner) {
			defer wg.Done()
			if err := r.Wait(); err != nil {
				sink.Send(types.ErrorEvent(name, err.Error()))
			}
		}(name, r)
	}

	quiesced := make(chan struct{})
	go func() {
		wg.Wait()
		close(quiesced)
	}()

	select {
	case <-quiesced:
	case <-ctx.Done():
		o.killAll()
		<-quiesced
	}
	sink.Close()
	<-collected

	if err := ctx.Err(); err != nil {
		return &Result{Passed: false, Reason: "run cancelled: " + err.Error(), Events: log}, err
	}

	return o.decide(log), nil
}

// decide derives the verdict: the run passes iff every assertion runner
// reported a pass and no runner emitted an Error event. The first fatal
// event sets the reason.
func (o *Orchestrator) decide(log []types.Event) *Result {
	res := &Result{Passed: true, Events: log}
	for _, e := range log {
		if e.Fatal() {
			res.Passed = false
			res.Reason = fmt.Sprintf("%s: %s", e.Step, e.Message)
			return res
		}
	}
	for _, r := range o.peers {
		a, ok := r.(*AssertionRunner)
		if !ok || a.Passed() {
			continue
		}
		res.Passed = false
		res.Reason = fmt.Sprintf("%s: assertion did not pass", a.Name())
		for _, e := range log {
			if e.Kind == types.EventFailure && e.Step == a.Name() {
				res.Reason = fmt.Sprintf("%s: %s", e.Step, e.Message)
				break
			}
		}
		return res
	}
	return res
}

func (o *Orchestrator) killAll() {
	for _, r := range o.peers {
		if k, ok := r.(Killer); ok {
			k.Kill()
		}
	}
}

// dependencyOrder sorts steps so that every step runs after those it
// depends_on. Steps without constraints keep their listed order; a cycle is
// a Configuration error.
func dependencyOrder(steps []types.Step) ([]string, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	listed := map[string]int{}
	for i := range steps {
		name := steps[i].Name
		listed[name] = i
		indegree[name] += 0
		for _, dep := range steps[i].DependsOn {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for i := range steps {
		if indegree[steps[i].Name] == 0 {
			ready = append(ready, steps[i].Name)
		}
	}

	var order []string
	for len(ready) > 0 {
		// Pick the earliest-listed ready step to keep listed order stable.
		best := 0
		for i := 1; i < len(ready); i++ {
			if listed[ready[i]] < listed[ready[best]] {
				best = i
			}
		}
		name := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, types.NewError(types.ErrConfiguration, "dependency cycle among steps")
	}
	return order, nil
}

// RunTest is the convenience entry point the CLI uses.
func RunTest(ctx context.Context, test *types.Test) (*Result, error) {
	o, err := NewOrchestrator(test)
	if err != nil {
		return nil, err
	}
	res, err := o.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return res, err
	}
	return res, nil
}
