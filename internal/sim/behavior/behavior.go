// Package behavior is the controller's behavior tree engine. Nodes are
// go-behaviortree nodes; Sequence adds the resumable index semantics the
// fetch loop relies on (resume a Running child, restart on Failure, wrap
// around after the last Success).
package behavior

import (
	"errors"

	bt "github.com/joeycumines/go-behaviortree"
)

type Status = bt.Status

const (
	Running = bt.Running
	Success = bt.Success
	Failure = bt.Failure
)

// Leaf wraps a status-returning function. It holds no state; anything that
// must persist across Running ticks lives with the caller.
func Leaf(fn func() Status) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if fn == nil {
			return bt.Failure, errors.New("behavior: nil leaf")
		}
		return fn(), nil
	})
}

// Sequence ticks its children in order starting from the child that was
// active on the previous call.
type Sequence struct {
	children []bt.Node
	index    int
}

func NewSequence(children ...bt.Node) *Sequence {
	return &Sequence{children: append([]bt.Node(nil), children...)}
}

// Index is the child that will be evaluated first on the next Tick.
func (s *Sequence) Index() int { return s.index }

func (s *Sequence) Len() int { return len(s.children) }

// Reset rewinds to the first child.
func (s *Sequence) Reset() { s.index = 0 }

// Tick has the go-behaviortree Tick signature; the children argument is
// ignored because the sequence owns its children.
func (s *Sequence) Tick([]bt.Node) (bt.Status, error) {
	for s.index < len(s.children) {
		status, err := s.children[s.index].Tick()
		if err != nil {
			s.index = 0
			return bt.Failure, err
		}
		switch status {
		case bt.Running:
			return bt.Running, nil
		case bt.Success:
			s.index++
		default:
			s.index = 0
			return bt.Failure, nil
		}
	}
	s.index = 0
	return bt.Success, nil
}

// Node exposes the sequence as a go-behaviortree node.
func (s *Sequence) Node() bt.Node {
	return bt.New(s.Tick)
}

// Tree is a root sequence plus evaluation bookkeeping.
type Tree struct {
	root  *Sequence
	node  bt.Node
	evals uint64
	last  Status
	err   error
}

func NewTree(children ...bt.Node) *Tree {
	root := NewSequence(children...)
	return &Tree{root: root, node: root.Node()}
}

// Evaluate ticks the root once. A tick error is recorded and reported as
// Failure; it never escapes the tree.
func (t *Tree) Evaluate() Status {
	t.evals++
	status, err := t.node.Tick()
	t.err = err
	if err != nil {
		status = bt.Failure
	}
	t.last = status
	return status
}

func (t *Tree) Root() *Sequence    { return t.root }
func (t *Tree) Evaluations() uint64 { return t.evals }
func (t *Tree) Last() Status        { return t.last }
func (t *Tree) Err() error          { return t.err }
