// Package region turns a seed into the bounded volume a trace run works on.
package region

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/store"
)

// ErrInvalidSeed is returned when a seed cannot be resolved to a slice.
var ErrInvalidSeed = errors.New("invalid seed")

// Seed names the slice a run starts from: either a node id, or a point on a
// section of a stack that is snapped to a slice.
type Seed struct {
	NodeID  string
	X, Y    float64
	Section uint32
	Stack   int64
}

// IsPoint reports whether s is a coordinate seed.
func (s Seed) IsPoint() bool {
	return s.NodeID == ""
}

func (s Seed) String() string {
	if s.IsPoint() {
		return fmt.Sprintf("stack %d section %d at (%g,%g)", s.Stack, s.Section, s.X, s.Y)
	}
	return s.NodeID
}

// Margins grow the seed slice into a query volume.
type Margins struct {
	Spatial  float64 `yaml:"spatial" json:"spatial" validate:"gte=0"`
	Backward uint32  `yaml:"backward" json:"backward" validate:"lte=1000"`
	Forward  uint32  `yaml:"forward" json:"forward" validate:"lte=1000"`
}

// Context is the per-stack setting every resolution runs against.
type Context struct {
	// Stack is the stack id the store serves.
	Stack int64
	// Extent clamps volumes when non-zero.
	Extent geo.Volume
	Margins
	// MaxSnapDistance bounds point seeds that fall outside every slice box.
	MaxSnapDistance float64
}

// Resolution is the seed slice and the volume around it.
type Resolution struct {
	Slice  store.Slice
	Volume geo.Volume
}

// Selector resolves seeds against a store.
type Selector struct {
	store store.Store
	rc    Context
}

// NewSelector creates a Selector.
func NewSelector(s store.Store, rc Context) *Selector {
	return &Selector{store: s, rc: rc}
}

// Resolve finds the seed slice and computes the query volume.
func (sel *Selector) Resolve(ctx context.Context, seed Seed) (Resolution, error) {
	if seed.Stack != 0 && seed.Stack != sel.rc.Stack {
		return Resolution{}, fmt.Errorf("%w: stack %d is not served (serving %d)",
			ErrInvalidSeed, seed.Stack, sel.rc.Stack)
	}

	var slice store.Slice
	var err error
	if seed.IsPoint() {
		slice, err = sel.snap(ctx, seed)
	} else {
		slice, err = sel.lookup(ctx, seed.NodeID)
	}
	if err != nil {
		return Resolution{}, err
	}

	m := sel.rc.Margins
	v := geo.Expand(slice.Bound, slice.Section, m.Spatial, m.Backward, m.Forward).Clamp(sel.rc.Extent)
	return Resolution{Slice: slice, Volume: v}, nil
}

func (sel *Selector) lookup(ctx context.Context, nodeID string) (store.Slice, error) {
	if _, _, err := store.ParseNodeID(nodeID); err != nil {
		return store.Slice{}, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	slices, err := sel.store.Slices(ctx, []string{nodeID})
	if err != nil {
		return store.Slice{}, fmt.Errorf("lookup seed %s: %w", nodeID, err)
	}
	if len(slices) == 0 {
		return store.Slice{}, fmt.Errorf("%w: slice %s not found", ErrInvalidSeed, nodeID)
	}
	return slices[0], nil
}

func (sel *Selector) snap(ctx context.Context, seed Seed) (store.Slice, error) {
	snapper, ok := sel.store.(store.Snapper)
	if !ok {
		return store.Slice{}, fmt.Errorf("%w: store cannot resolve coordinate seeds", ErrInvalidSeed)
	}
	slice, found, err := snapper.NearestSlice(ctx, seed.Section, orb.Point{seed.X, seed.Y}, sel.rc.MaxSnapDistance)
	if err != nil {
		return store.Slice{}, fmt.Errorf("snap seed %s: %w", seed, err)
	}
	if !found {
		return store.Slice{}, fmt.Errorf("%w: no slice within %g of %s",
			ErrInvalidSeed, sel.rc.MaxSnapDistance, seed)
	}
	return slice, nil
}
