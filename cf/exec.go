// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gomlx/coefficients/internal/workerspool"
	"github.com/gomlx/coefficients/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrEvaluation is the sentinel all *EvaluationError values match with
// errors.Is.
var ErrEvaluation = errors.New("coefficient evaluation failed")

// EvaluationError reports a failed batch evaluation: which Context of the
// batch failed, at which node, and why. The whole batch is discarded, no
// partial results are returned alongside it.
type EvaluationError struct {
	// Index of the failing Context within the batch passed to Evaluate.
	Index int

	// Node whose computation failed.
	Node *Node

	cause error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %s at context #%d: %v", e.Node, e.Index, e.cause)
}

// Unwrap returns the underlying cause, e.g. the error returned by a Func rule.
func (e *EvaluationError) Unwrap() error { return e.cause }

// Is matches ErrEvaluation, so errors.Is(err, ErrEvaluation) holds for every
// EvaluationError.
func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

// EvalOption configures one Evaluate/EvaluateGradient/EvaluateDiff call.
type EvalOption func(*evalOptions)

type evalOptions struct {
	parameters map[*Node]float64
	workers    int
}

// WithParameter overrides the value of a Parameter node for this call only.
func WithParameter(node *Node, value float64) EvalOption {
	checkNodes("WithParameter", node)
	if node.opType != OpParameter {
		exceptions.Panicf("WithParameter: node %s is not a Parameter", node)
	}
	return func(o *evalOptions) {
		if o.parameters == nil {
			o.parameters = make(map[*Node]float64)
		}
		o.parameters[node] = value
	}
}

// WithParallelism fans the batch of this call out over up to workers
// goroutines, each with its own scratch buffers. 0 or 1 (the default)
// evaluates sequentially; negative values use runtime.NumCPU(). Results and
// failure reporting are identical to sequential evaluation: on failures the
// lowest failing Context index is the one reported.
func WithParallelism(workers int) EvalOption {
	return func(o *evalOptions) { o.workers = workers }
}

func newEvalOptions(opts []EvalOption) *evalOptions {
	options := &evalOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// nodeExecutor computes the value of one node at one Context.
//
// It is given the already computed values of its inputs, and a reserved
// buffer where to store its output, sized for the node shape.
type nodeExecutor func(node *Node, ctx *Context, opts *evalOptions, inputs [][]float64, out []float64) error

// nodeExecutors is populated during initialization (`init` functions) for the
// ops implemented. An unset entry is a bug: every OpType must have one.
var nodeExecutors [opTypeLast]nodeExecutor

// Evaluator is a frozen evaluation plan for one coefficient-function
// expression. It can be reused for any number of Evaluate calls and shared
// between goroutines: all per-call state lives in pooled buffers private to
// each call.
type Evaluator struct {
	root *Node

	// nodes hold the expression DAG flattened in topological order (inputs
	// before users, root last), each distinct node exactly once. The
	// executor relies on this invariance to compute every node once per
	// Context, however many expressions share it.
	nodes   []*Node
	nodeIdx map[*Node]int

	// maxInputs of all nodes in the plan.
	maxInputs int

	// execBuffersPool allows re-use of execBuffers across calls.
	execBuffersPool sync.Pool
}

// execBuffers holds the intermediate results during the evaluation of the
// plan for one Context. One set is checked out of the pool per call.
type execBuffers struct {
	// values hold the computed value of each node for the Context currently
	// being evaluated, indexed like Evaluator.nodes.
	values [][]float64

	// suppliedFirst records which nodes had caller supplied values at the
	// first Context of the batch; later contexts must match.
	suppliedFirst []bool

	// inputs is scratch reused when gathering input buffers for each node.
	inputs [][]float64

	// grads hold per-node derivative buffers, only allocated by the
	// derivative evaluations, see diff.go. Sized shape.Size()*dims, with
	// dims the number of derivative directions of the call.
	grads    [][]float64
	gradDims int

	// gradInputs is scratch reused when gathering input derivative buffers.
	gradInputs [][]float64
}

// NewEvaluator freezes an evaluation plan for the expression rooted at root.
func NewEvaluator(root *Node) *Evaluator {
	checkNodes("NewEvaluator", root)
	e := &Evaluator{
		root:    root,
		nodeIdx: make(map[*Node]int),
	}
	e.addToPlan(root)
	for _, node := range e.nodes {
		e.maxInputs = max(e.maxInputs, len(node.inputs))
	}
	numNodes := len(e.nodes)
	nodes := e.nodes
	maxInputs := e.maxInputs
	e.execBuffersPool = sync.Pool{
		New: func() any {
			buf := &execBuffers{
				values:        make([][]float64, numNodes),
				suppliedFirst: make([]bool, numNodes),
				inputs:        make([][]float64, maxInputs),
				gradInputs:    make([][]float64, maxInputs),
			}
			for idx, node := range nodes {
				buf.values[idx] = make([]float64, node.shape.Size())
			}
			return buf
		},
	}
	return e
}

// addToPlan appends node to the plan after all of its inputs, skipping nodes
// already planned: a node shared by many expressions is planned once.
func (e *Evaluator) addToPlan(node *Node) {
	if _, found := e.nodeIdx[node]; found {
		return
	}
	for _, input := range node.inputs {
		e.addToPlan(input)
	}
	e.nodeIdx[node] = len(e.nodes)
	e.nodes = append(e.nodes, node)
}

// Root returns the expression the plan evaluates.
func (e *Evaluator) Root() *Node { return e.root }

// NumNodes returns the number of distinct nodes in the plan.
func (e *Evaluator) NumNodes() int { return len(e.nodes) }

// Evaluate computes the expression for every Context of the batch and
// returns one result item per Context, in order.
//
// Within the call, each node of the DAG is computed exactly once per Context
// (user rules included), and all scratch space is private to the call, so
// concurrent Evaluate calls on the same Evaluator are safe. Large batches can
// additionally be fanned out within the call, see WithParallelism.
//
// If any node fails at any Context the whole batch fails: the returned error
// is a *EvaluationError carrying the index of the failing Context, and no
// results are returned.
func (e *Evaluator) Evaluate(batch []*Context, opts ...EvalOption) (*tensors.Batch, error) {
	options := newEvalOptions(opts)
	out := tensors.FromShape(e.root.shape, len(batch))
	rootIdx := e.nodeIdx[e.root]
	err := e.runBatch(batch, options.workers, func(from, to int, buf *execBuffers) error {
		for i := from; i < to; i++ {
			ctx := batch[i]
			if err := e.checkContext(i, ctx); err != nil {
				return err
			}
			if err := e.evalContext(i, ctx, buf, options); err != nil {
				return err
			}
			copy(out.Item(i), buf.values[rootIdx])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// minChunkContexts is the smallest slice of a batch worth its own goroutine.
const minChunkContexts = 16

// runBatch runs fn over the whole batch, either in one sequential range or
// chunked over a workers pool. Each invocation gets its own pooled scratch.
// fn must touch only its range, so chunks never overlap; the supplied-value
// reference is primed from the head of the batch either way, keeping the
// all-or-none check batch-wide.
//
// When several chunks fail, the error of the lowest Context index wins,
// matching what a sequential run would have reported.
func (e *Evaluator) runBatch(batch []*Context, workers int, fn func(from, to int, buf *execBuffers) error) error {
	if workers < 0 {
		workers = runtime.NumCPU()
	}
	run := func(from, to int) error {
		buf := e.execBuffersPool.Get().(*execBuffers)
		defer e.execBuffersPool.Put(buf)
		e.primeSupplied(batch[0], buf)
		return fn(from, to, buf)
	}
	if workers <= 1 || len(batch) < 2*minChunkContexts {
		if len(batch) == 0 {
			return nil
		}
		return run(0, len(batch))
	}

	chunk := max(minChunkContexts, (len(batch)+4*workers-1)/(4*workers))
	pool := workerspool.New(workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	firstIdx := len(batch)
	for from := 0; from < len(batch); from += chunk {
		to := min(from+chunk, len(batch))
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			err := run(from, to)
			if err == nil {
				return
			}
			idx := from
			var evalErr *EvaluationError
			if errors.As(err, &evalErr) {
				idx = evalErr.Index
			}
			mu.Lock()
			if firstErr == nil || idx < firstIdx {
				firstErr, firstIdx = err, idx
			}
			mu.Unlock()
		})
	}
	wg.Wait()
	return firstErr
}

// primeSupplied records which plan nodes have caller supplied values at the
// first Context of the batch; every other Context must match it.
func (e *Evaluator) primeSupplied(first *Context, buf *execBuffers) {
	if first == nil { // checkContext reports it, with the right index.
		clear(buf.suppliedFirst)
		return
	}
	for idx, node := range e.nodes {
		_, found := first.suppliedValue(node)
		buf.suppliedFirst[idx] = found
	}
}

// checkContext validates one Context of a batch before evaluating it.
func (e *Evaluator) checkContext(i int, ctx *Context) error {
	if ctx == nil {
		return &EvaluationError{Index: i, Node: e.root, cause: errors.New("nil Context in batch")}
	}
	if len(ctx.X) == 0 || len(ctx.X) > maxSpatialDims {
		return &EvaluationError{Index: i, Node: e.root,
			cause: errors.Errorf("Context must have 1 to %d coordinates, got %d", maxSpatialDims, len(ctx.X))}
	}
	return nil
}

// evalContext computes all nodes of the plan for one Context, leaves first.
// Values end up in buf.values, indexed like e.nodes. buf.suppliedFirst must
// have been primed from the first Context of the batch, see primeSupplied.
func (e *Evaluator) evalContext(i int, ctx *Context, buf *execBuffers, opts *evalOptions) error {
	for idx, node := range e.nodes {
		out := buf.values[idx]
		if supplied, found := ctx.suppliedValue(node); found {
			if !buf.suppliedFirst[idx] {
				return &EvaluationError{Index: i, Node: node,
					cause: errors.New("values supplied for this node on some contexts of the batch but not all")}
			}
			copy(out, supplied)
			continue
		}
		if buf.suppliedFirst[idx] {
			return &EvaluationError{Index: i, Node: node,
				cause: errors.New("values supplied for this node on some contexts of the batch but not all")}
		}

		executor := nodeExecutors[node.opType]
		if executor == nil {
			return &EvaluationError{Index: i, Node: node,
				cause: errors.Errorf("node executor for op type %s not implemented!?", node.opType)}
		}
		inputs := buf.inputs[:len(node.inputs)]
		for ii, input := range node.inputs {
			inputs[ii] = buf.values[e.nodeIdx[input]]
		}
		if err := executor(node, ctx, opts, inputs, out); err != nil {
			return &EvaluationError{Index: i, Node: node, cause: err}
		}
	}
	return nil
}

// Eval is a one-shot convenience: it builds an Evaluator for root and
// evaluates the batch. Use an explicit Evaluator to amortize the plan when
// evaluating the same expression repeatedly.
func Eval(root *Node, batch []*Context, opts ...EvalOption) (*tensors.Batch, error) {
	return NewEvaluator(root).Evaluate(batch, opts...)
}
