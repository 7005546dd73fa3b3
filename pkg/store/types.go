package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// ErrMalformedNodeID is returned when a node id is not "<section>_<slice>".
var ErrMalformedNodeID = errors.New("malformed slice node id")

// Direction tells on which side of a slice a variable attaches.
type Direction uint8

const (
	// Incoming variables attach from the previous section (the "left" side).
	Incoming Direction = iota
	// Outgoing variables attach toward the next section (the "right" side).
	Outgoing
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Incoming {
		return Outgoing
	}
	return Incoming
}

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "incoming", "left", "0":
		*d = Incoming
	case "outgoing", "right", "1":
		*d = Outgoing
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// SegmentType distinguishes one-to-one from one-to-two transitions.
// The numeric codes match the relational store.
type SegmentType uint8

const (
	Continuation SegmentType = 2
	Branch       SegmentType = 3
)

// Valid reports whether t is a known segment type.
func (t SegmentType) Valid() bool {
	return t == Continuation || t == Branch
}

func (t SegmentType) String() string {
	switch t {
	case Continuation:
		return "continuation"
	case Branch:
		return "branch"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Slice is a candidate 2D fragment on one section.
type Slice struct {
	NodeID  string
	Section uint32
	SliceID int64
	Bound   orb.Bound
}

// Center returns the midpoint of the slice's bounding box.
func (s Slice) Center() orb.Point {
	return s.Bound.Center()
}

// Segment is a candidate transition from an origin slice to one (continuation)
// or two (branch) target slices.
type Segment struct {
	ID            int64
	Type          SegmentType
	OriginSection uint32
	OriginSlice   int64
	TargetSection uint32
	Target1Slice  int64
	Target2Slice  int64 // branch only
	Direction     Direction
	Cost          float64
}

// OriginNode returns the node id of the origin slice.
func (s Segment) OriginNode() string {
	return FormatNodeID(s.OriginSection, s.OriginSlice)
}

// TargetNodes returns the node ids of the target slices.
func (s Segment) TargetNodes() []string {
	if s.Type == Branch {
		return []string{
			FormatNodeID(s.TargetSection, s.Target1Slice),
			FormatNodeID(s.TargetSection, s.Target2Slice),
		}
	}
	return []string{FormatNodeID(s.TargetSection, s.Target1Slice)}
}

// EndSegment is the hypothesis that a trace terminates at a slice in one direction.
type EndSegment struct {
	ID        int64
	Section   uint32
	SliceID   int64
	Direction Direction
	Cost      float64
}

// NodeID returns the node id of the slice the end-segment belongs to.
func (e EndSegment) NodeID() string {
	return FormatNodeID(e.Section, e.SliceID)
}

// Association is one row of the slice/segment map.
type Association struct {
	SliceNodeID string
	VariableID  int64
	Direction   Direction
	End         bool
}

// Group is an exclusivity group: alternative explanations of the same continuity.
type Group struct {
	ID          int64
	Segments    []int64
	EndSegments []int64
}

// Members returns segment ids followed by end-segment ids.
func (g Group) Members() []int64 {
	out := make([]int64, 0, len(g.Segments)+len(g.EndSegments))
	out = append(out, g.Segments...)
	return append(out, g.EndSegments...)
}

// FormatNodeID builds the composite "<section>_<slice>" id.
func FormatNodeID(section uint32, sliceID int64) string {
	return strconv.FormatUint(uint64(section), 10) + "_" + strconv.FormatInt(sliceID, 10)
}

// ParseNodeID splits a composite node id into section and slice id.
func ParseNodeID(nodeID string) (section uint32, sliceID int64, err error) {
	sec, sl, ok := strings.Cut(nodeID, "_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedNodeID, nodeID)
	}
	s, err := strconv.ParseUint(sec, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedNodeID, nodeID)
	}
	id, err := strconv.ParseInt(sl, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedNodeID, nodeID)
	}
	return uint32(s), id, nil
}
