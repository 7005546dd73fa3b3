package store

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"slice_tracer/pkg/geo"
)

// SliceRecord is the serialized form of a Slice.
type SliceRecord struct {
	Section uint32  `json:"section"`
	SliceID int64   `json:"slice_id"`
	MinX    float64 `json:"min_x"`
	MinY    float64 `json:"min_y"`
	MaxX    float64 `json:"max_x"`
	MaxY    float64 `json:"max_y"`
}

// Slice converts the record.
func (r SliceRecord) Slice() Slice {
	return Slice{
		NodeID:  FormatNodeID(r.Section, r.SliceID),
		Section: r.Section,
		SliceID: r.SliceID,
		Bound:   geo.Box(r.MinX, r.MinY, r.MaxX, r.MaxY),
	}
}

// NewSliceRecord converts a Slice to its serialized form.
func NewSliceRecord(s Slice) SliceRecord {
	return SliceRecord{
		Section: s.Section,
		SliceID: s.SliceID,
		MinX:    s.Bound.Min.X(),
		MinY:    s.Bound.Min.Y(),
		MaxX:    s.Bound.Max.X(),
		MaxY:    s.Bound.Max.Y(),
	}
}

// SegmentRecord is the serialized form of a Segment.
type SegmentRecord struct {
	ID            int64       `json:"id"`
	Type          SegmentType `json:"type"`
	OriginSection uint32      `json:"origin_section"`
	OriginSlice   int64       `json:"origin_slice"`
	TargetSection uint32      `json:"target_section"`
	Target1Slice  int64       `json:"target1_slice"`
	Target2Slice  int64       `json:"target2_slice,omitempty"`
	Direction     Direction   `json:"direction"`
	Cost          float64     `json:"cost"`
}

// EndSegmentRecord is the serialized form of an EndSegment.
type EndSegmentRecord struct {
	ID        int64     `json:"id"`
	Section   uint32    `json:"section"`
	SliceID   int64     `json:"slice_id"`
	Direction Direction `json:"direction"`
	Cost      float64   `json:"cost"`
}

// GroupRecord is the serialized form of a Group.
type GroupRecord struct {
	ID          int64   `json:"id"`
	Segments    []int64 `json:"segments"`
	EndSegments []int64 `json:"end_segments"`
}

// Dataset is a self-contained extraction result used to populate stores.
type Dataset struct {
	Slices      []SliceRecord      `json:"slices"`
	Segments    []SegmentRecord    `json:"segments"`
	EndSegments []EndSegmentRecord `json:"end_segments"`
	Groups      []GroupRecord      `json:"groups"`
}

// ReadDataset decodes and validates a JSON dataset.
func ReadDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks structural integrity: unique ids shared across segments and
// end-segments, known segment types, and references that resolve. It does not
// check per-slice end-segment counts; the constraint builder enforces those at
// query time.
func (ds *Dataset) Validate() error {
	slices := make(map[string]struct{}, len(ds.Slices))
	for _, s := range ds.Slices {
		id := FormatNodeID(s.Section, s.SliceID)
		if _, dup := slices[id]; dup {
			return fmt.Errorf("%w: duplicate slice %s", ErrInvalidDataset, id)
		}
		if s.MaxX < s.MinX || s.MaxY < s.MinY {
			return fmt.Errorf("%w: slice %s has inverted box", ErrInvalidDataset, id)
		}
		slices[id] = struct{}{}
	}

	vars := make(map[int64]struct{}, len(ds.Segments)+len(ds.EndSegments))
	claim := func(id int64) error {
		if _, dup := vars[id]; dup {
			return fmt.Errorf("%w: variable id %d used twice", ErrInvalidDataset, id)
		}
		vars[id] = struct{}{}
		return nil
	}
	exists := func(section uint32, slice int64, owner int64) error {
		if _, ok := slices[FormatNodeID(section, slice)]; !ok {
			return fmt.Errorf("%w: variable %d references unknown slice %s",
				ErrInvalidDataset, owner, FormatNodeID(section, slice))
		}
		return nil
	}

	for _, s := range ds.Segments {
		if err := claim(s.ID); err != nil {
			return err
		}
		if !s.Type.Valid() {
			return fmt.Errorf("%w: segment %d has type %s", ErrInvalidDataset, s.ID, s.Type)
		}
		if err := exists(s.OriginSection, s.OriginSlice, s.ID); err != nil {
			return err
		}
		if err := exists(s.TargetSection, s.Target1Slice, s.ID); err != nil {
			return err
		}
		if s.Type == Branch {
			if err := exists(s.TargetSection, s.Target2Slice, s.ID); err != nil {
				return err
			}
		}
	}
	for _, e := range ds.EndSegments {
		if err := claim(e.ID); err != nil {
			return err
		}
		if err := exists(e.Section, e.SliceID, e.ID); err != nil {
			return err
		}
	}

	groups := make(map[int64]struct{}, len(ds.Groups))
	for _, g := range ds.Groups {
		if _, dup := groups[g.ID]; dup {
			return fmt.Errorf("%w: duplicate group %d", ErrInvalidDataset, g.ID)
		}
		groups[g.ID] = struct{}{}
		for _, id := range append(append([]int64(nil), g.Segments...), g.EndSegments...) {
			if _, ok := vars[id]; !ok {
				return fmt.Errorf("%w: group %d references unknown variable %d", ErrInvalidDataset, g.ID, id)
			}
		}
	}
	return nil
}

// Segment converts the record.
func (r SegmentRecord) Segment() Segment {
	return Segment(r)
}

// EndSegment converts the record.
func (r EndSegmentRecord) EndSegment() EndSegment {
	return EndSegment(r)
}

// Group converts the record.
func (r GroupRecord) Group() Group {
	return Group(r)
}

// DeriveAssociations builds the slice/segment map rows. A segment attaches to
// its origin on its own direction and to its targets on the opposite side;
// an end-segment attaches to its slice on its own direction.
func DeriveAssociations(segments []Segment, ends []EndSegment) []Association {
	out := make([]Association, 0, 3*len(segments)+len(ends))
	for _, s := range segments {
		out = append(out, Association{SliceNodeID: s.OriginNode(), VariableID: s.ID, Direction: s.Direction})
		for _, t := range s.TargetNodes() {
			out = append(out, Association{SliceNodeID: t, VariableID: s.ID, Direction: s.Direction.Opposite()})
		}
	}
	for _, e := range ends {
		out = append(out, Association{SliceNodeID: e.NodeID(), VariableID: e.ID, Direction: e.Direction, End: true})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SliceNodeID != out[j].SliceNodeID {
			return out[i].SliceNodeID < out[j].SliceNodeID
		}
		return out[i].VariableID < out[j].VariableID
	})
	return out
}
