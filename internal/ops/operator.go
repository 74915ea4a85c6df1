// Copyright (C) 2024 The burstlight authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package ops provides the processing operator framework: lazily
// evaluated image promises, composable operators and a JSON factory
// registry so pipelines can be built from serialized parameter sets.
package ops

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"burstlight/internal/img"
)

// A Context carries the resources operators share: the log sink and
// the machine limits that gate parallel materialization.
type Context struct {
	Log        io.Writer `json:"-"`
	MaxThreads int32     `json:"maxThreads"`
	MemoryMB   int32     `json:"memoryMB"`
}

// NewContext returns a context bound to the given log sink. Zero
// arguments are replaced by the detected physical core count and total
// system memory.
func NewContext(log io.Writer, maxThreads, memoryMB int32) *Context {
	if maxThreads <= 0 {
		maxThreads = int32(cpuid.CPU.PhysicalCores)
		if maxThreads <= 0 {
			maxThreads = int32(runtime.GOMAXPROCS(0))
		}
	}
	if memoryMB <= 0 {
		memoryMB = int32(memory.TotalMemory() / 1024 / 1024)
	}
	return &Context{Log: log, MaxThreads: maxThreads, MemoryMB: memoryMB}
}

// A Promise is a lazy image computation. Calling it materializes the
// image, which may recursively materialize upstream promises.
type Promise func() (*img.Image, error)

// NewConstPromise wraps an already materialized image.
func NewConstPromise(f *img.Image) Promise {
	return func() (*img.Image, error) { return f, nil }
}

// MaterializeAll evaluates the given promises, up to c.MaxThreads at a
// time, and returns the resulting images in order. Errors from all
// failed promises are joined.
func MaterializeAll(ins []Promise, c *Context) ([]*img.Image, error) {
	outs := make([]*img.Image, len(ins))
	errs := make([]error, len(ins))
	maxThreads := c.MaxThreads
	if maxThreads < 1 {
		maxThreads = 1
	}
	sem := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for i, in := range ins {
		if in == nil {
			continue
		}
		wg.Add(1)
		sem <- true
		go func(i int, in Promise) {
			defer wg.Done()
			defer func() { <-sem }()
			outs[i], errs[i] = in()
		}(i, in)
	}
	wg.Wait()
	return outs, errors.Join(errs...)
}

// An Operator turns a set of input promises into a set of output
// promises. Operators are lightweight and hold only parameters; work
// happens when a returned promise is called.
type Operator interface {
	Apply(ins []Promise, c *Context) (outs []Promise, err error)
}

// OpBase is the common part of all serializable operators.
type OpBase struct {
	Type string `json:"type"`
}

// OpUnaryBase implements Apply for one-image-in, one-image-out
// operators. Embedders set Apply1 to their per-image function.
type OpUnaryBase struct {
	OpBase
	Apply1 func(f *img.Image, c *Context) (*img.Image, error) `json:"-"`
}

// Apply wraps every input promise with the unary image function.
func (op *OpUnaryBase) Apply(ins []Promise, c *Context) ([]Promise, error) {
	outs := make([]Promise, len(ins))
	for i, in := range ins {
		if in == nil {
			continue
		}
		in := in
		outs[i] = func() (*img.Image, error) {
			f, err := in()
			if err != nil {
				return nil, err
			}
			return op.Apply1(f, c)
		}
	}
	return outs, nil
}

// An OpSequence chains operators, feeding each one's outputs to the
// next.
type OpSequence struct {
	OpBase
	Steps []Operator `json:"steps"`
}

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{OpBase: OpBase{Type: "seq"}, Steps: steps}
}

func (op *OpSequence) Apply(ins []Promise, c *Context) ([]Promise, error) {
	outs := ins
	var err error
	for _, step := range op.Steps {
		if step == nil {
			continue
		}
		if outs, err = step.Apply(outs, c); err != nil {
			return nil, err
		}
	}
	return outs, nil
}

// UnmarshalJSON resolves each serialized step through the factory
// registry before unmarshaling it.
func (op *OpSequence) UnmarshalJSON(data []byte) error {
	type rawSequence struct {
		OpBase
		Steps []json.RawMessage `json:"steps"`
	}
	raw := rawSequence{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op.OpBase = raw.OpBase
	op.Steps = make([]Operator, len(raw.Steps))
	for i, rawStep := range raw.Steps {
		step, err := UnmarshalOperator(rawStep)
		if err != nil {
			return err
		}
		op.Steps[i] = step
	}
	return nil
}

// factory registry, filled by package init() functions

type OperatorFactory func() Operator

var operatorFactories = map[string]OperatorFactory{}

// SetOperatorFactory registers the factory producing a default operator
// of the given type tag.
func SetOperatorFactory(tag string, f OperatorFactory) {
	operatorFactories[tag] = f
}

// UnmarshalOperator decodes a serialized operator by dispatching on its
// type tag. The factory provides the defaults; the JSON overrides them.
func UnmarshalOperator(data []byte) (Operator, error) {
	base := OpBase{}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	factory, ok := operatorFactories[base.Type]
	if !ok {
		return nil, fmt.Errorf("unknown operator type %q", base.Type)
	}
	op := factory()
	if err := json.Unmarshal(data, op); err != nil {
		return nil, err
	}
	return op, nil
}

func init() {
	SetOperatorFactory("seq", func() Operator { return NewOpSequence() })
}
