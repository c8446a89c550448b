package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/patui/pkg/broadcast"
	"github.com/ormasoftchile/patui/pkg/expr"
	"github.com/ormasoftchile/patui/pkg/types"
)

// TransformRunner decodes each datum arriving on its input term per the
// configured flavour and publishes the structural value on "out". Decode
// failures are per-datum Transform events; the stream continues.
type TransformRunner struct {
	name string
	step *types.TransformStreamStep

	upstream *broadcast.Receiver[types.Datum]
	out      *broadcast.Channel[types.Datum]

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     bool
}

// NewTransformRunner builds the runner; the output channel is live
// immediately.
func NewTransformRunner(name string, step *types.TransformStreamStep) *TransformRunner {
	return &TransformRunner{
		name: name,
		step: step,
		out:  broadcast.New[types.Datum](passthroughChanCap),
	}
}

func (r *TransformRunner) Name() string { return r.name }

func (r *TransformRunner) Init(peers Peers) error {
	if r.upstream != nil {
		return nil
	}
	switch r.step.Flavour {
	case types.FlavourUtf8, types.FlavourUtf8Lines, types.FlavourJson, types.FlavourYaml, types.FlavourToml:
	default:
		return types.NewError(types.ErrConfiguration,
			"step %q: unknown transform flavour %q", r.name, r.step.Flavour)
	}

	e, err := parseStepExpr(r.name, r.step.In)
	if err != nil {
		return err
	}
	term, ok := e.Kind.(expr.Term)
	if !ok {
		return types.NewError(types.ErrConfiguration,
			"step %q: transform input must be a term, got %q", r.name, e.Raw)
	}
	receivers, err := subscribeTerms([]*expr.Expr{e}, r.name, peers)
	if err != nil {
		return err
	}
	key, ok := term.SubscriptionKey()
	if !ok {
		return types.NewError(types.ErrConfiguration,
			"step %q: %q does not name step data", r.name, e.Raw)
	}
	r.upstream = receivers[key]
	return nil
}

func (r *TransformRunner) Run(events *Sink) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var residue []byte // pending partial line in utf8_lines mode
		for {
			datum, err := r.upstream.Recv()
			if err != nil {
				var lag *broadcast.LagError
				if errors.As(err, &lag) {
					events.Send(types.LogEvent(r.name, lag.Error()))
					continue
				}
				// Producer closed: flush any pending partial line.
				if len(residue) > 0 {
					r.emit(events, types.String(string(residue)))
				}
				return
			}
			r.apply(events, datum, &residue)
		}
	}()
	return nil
}

func (r *TransformRunner) apply(events *Sink, datum types.Datum, residue *[]byte) {
	raw, err := rawInput(datum.Value)
	if err != nil {
		r.transformError(events, err)
		return
	}

	switch r.step.Flavour {
	case types.FlavourUtf8:
		if !utf8.Valid(raw) {
			r.transformError(events, fmt.Errorf("invalid UTF-8 in %d-byte chunk", len(raw)))
			return
		}
		r.emit(events, types.String(string(raw)))

	case types.FlavourUtf8Lines:
		*residue = append(*residue, raw...)
		for {
			i := bytes.IndexByte(*residue, '\n')
			if i < 0 {
				break
			}
			line := string((*residue)[:i])
			*residue = (*residue)[i+1:]
			if !utf8.ValidString(line) {
				r.transformError(events, fmt.Errorf("invalid UTF-8 line"))
				continue
			}
			r.emit(events, types.String(line))
		}

	case types.FlavourJson:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			r.transformError(events, err)
			return
		}
		r.emitStructural(events, doc)

	case types.FlavourYaml:
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			r.transformError(events, err)
			return
		}
		r.emitStructural(events, doc)

	case types.FlavourToml:
		var doc map[string]any
		if err := toml.Unmarshal(raw, &doc); err != nil {
			r.transformError(events, err)
			return
		}
		r.emitStructural(events, doc)
	}
}

func (r *TransformRunner) emitStructural(events *Sink, doc any) {
	v, err := types.FromGo(doc)
	if err != nil {
		r.transformError(events, err)
		return
	}
	r.emit(events, v)
}

func (r *TransformRunner) emit(events *Sink, v types.Value) {
	r.out.Send(types.NewDatum(v))
	events.Send(types.LogEvent(r.name, fmt.Sprintf("decoded %s %s", r.step.Flavour, v.Kind())))
}

// transformError reports a per-datum decode failure; the datum is dropped
// and the stream continues.
func (r *TransformRunner) transformError(events *Sink, err error) {
	events.Send(types.FailureEvent(r.name,
		types.WrapError(types.ErrTransform, err, "%s decode", r.step.Flavour).Error()))
}

// rawInput accepts the Bytes and String shapes transforms decode from.
func rawInput(v types.Value) ([]byte, error) {
	switch v.Kind() {
	case types.KindBytes:
		b, _ := v.AsBytes()
		return b, nil
	case types.KindString:
		s, _ := v.AsString()
		return []byte(s), nil
	}
	return nil, fmt.Errorf("transform input is %s, want bytes or string", v.Kind())
}
