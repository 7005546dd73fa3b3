// Package problem holds the optimization instance handed to the external
// integer-program solver and its line-oriented wire format.
package problem

import (
	"fmt"
	"strings"
)

// Kind is the variable kind, used to pick the prior cost offset.
type Kind uint8

const (
	Continuation Kind = iota
	Branch
	End
)

func (k Kind) String() string {
	switch k {
	case Continuation:
		return "continuation"
	case Branch:
		return "branch"
	case End:
		return "end"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Sense is the relation every exclusivity group is held to.
type Sense uint8

const (
	// SenseUnset is rejected everywhere; callers must choose explicitly.
	SenseUnset Sense = iota
	// Exactly forces every group to be explained by one variable (==1).
	Exactly
	// AtMost lets a group stay unexplained (<=1).
	AtMost
)

// Token returns the wire token for s.
func (s Sense) Token() string {
	switch s {
	case Exactly:
		return "=="
	case AtMost:
		return "<="
	default:
		return ""
	}
}

func (s Sense) String() string {
	switch s {
	case Exactly:
		return "force"
	case AtMost:
		return "permissive"
	default:
		return "unset"
	}
}

// ParseSense accepts a mode name ("force", "permissive") or a wire token.
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "force", "exact", "==":
		return Exactly, nil
	case "permissive", "atmost", "<=":
		return AtMost, nil
	default:
		return SenseUnset, fmt.Errorf("unknown sense %q", s)
	}
}

// Role is the side of a slice a variable sits on inside an equality bucket.
type Role uint8

const (
	// Incoming terms are the "left" side, positive on the wire.
	Incoming Role = iota
	// Outgoing terms are the "right" side, negated on the wire.
	Outgoing
)

// Variable is one 0/1 decision with its cost (lower is more likely).
type Variable struct {
	ID   int64
	Cost float64
	Kind Kind
}

// Group is an exclusivity group. ID is not carried on the wire.
type Group struct {
	ID      int64
	Members []int64
}

// Term is one signed entry of an equality bucket.
type Term struct {
	Var  int64
	Role Role
}

// Bucket is the flow-balance constraint of one slice. Slice is not carried
// on the wire.
type Bucket struct {
	Slice string
	Terms []Term
}

// Problem is one subproblem: variables, exclusivity groups and per-slice
// equality buckets.
type Problem struct {
	Variables []Variable
	Sense     Sense
	Groups    []Group
	Buckets   []Bucket
}

// Costs returns the variable id to cost map.
func (p *Problem) Costs() map[int64]float64 {
	out := make(map[int64]float64, len(p.Variables))
	for _, v := range p.Variables {
		out[v.ID] = v.Cost
	}
	return out
}

// Solution is the set of variables the solver selected.
type Solution struct {
	Selected []int64
}
