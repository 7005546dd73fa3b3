// Package pgstore is a read-only Store over the relational slice, segment
// and constraint tables, scoped to one stack and project.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"

	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/store"
)

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements store.Store, store.Snapper and store.Counter.
type Store struct {
	db      DB
	stack   int64
	project int64
}

// New wraps an existing connection pool.
func New(db DB, stack, project int64) *Store {
	return &Store{db: db, stack: stack, project: project}
}

// Open connects to dsn. The caller closes the returned pool.
func Open(ctx context.Context, dsn string, stack, project int64) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, stack, project), pool, nil
}

// CreateSchema creates the tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const selectSlice = `SELECT section, slice_id, min_x, min_y, max_x, max_y FROM slices`

func (s *Store) SlicesInRegion(ctx context.Context, v geo.Volume) ([]store.Slice, error) {
	rows, err := s.db.Query(ctx, selectSlice+`
		WHERE stack_id = $1 AND project_id = $2
		  AND section BETWEEN $3 AND $4
		  AND max_x >= $5 AND min_x <= $6
		  AND max_y >= $7 AND min_y <= $8
		ORDER BY section, slice_id`,
		s.stack, s.project, int64(v.Z1), int64(v.Z2), v.X1, v.X2, v.Y1, v.Y2)
	if err != nil {
		return nil, fmt.Errorf("query slices in region: %w", err)
	}
	return pgx.CollectRows(rows, scanSlice)
}

func (s *Store) Slices(ctx context.Context, nodeIDs []string) ([]store.Slice, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, selectSlice+`
		WHERE stack_id = $1 AND project_id = $2 AND node_id = ANY($3)
		ORDER BY node_id COLLATE "C"`,
		s.stack, s.project, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("query slices: %w", err)
	}
	return pgx.CollectRows(rows, scanSlice)
}

func (s *Store) SliceSegmentMap(ctx context.Context, nodeIDs []string, excludeEnd bool) ([]store.Association, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT slice_node_id, variable_id, direction, is_end FROM slice_segment_map
		WHERE stack_id = $1 AND project_id = $2 AND slice_node_id = ANY($3) AND is_end = $4
		ORDER BY slice_node_id COLLATE "C", variable_id`,
		s.stack, s.project, nodeIDs, !excludeEnd)
	if err != nil {
		return nil, fmt.Errorf("query slice segment map: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Association, error) {
		var a store.Association
		var dir int16
		err := row.Scan(&a.SliceNodeID, &a.VariableID, &dir, &a.End)
		a.Direction = store.Direction(dir)
		return a, err
	})
}

func (s *Store) Segments(ctx context.Context, ids []int64) ([]store.Segment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, segmenttype, origin_section, origin_slice_id, target_section,
		       target1_slice_id, COALESCE(target2_slice_id, 0), direction, cost
		FROM segments
		WHERE stack_id = $1 AND project_id = $2 AND id = ANY($3)
		ORDER BY id`,
		s.stack, s.project, ids)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Segment, error) {
		var seg store.Segment
		var typ, dir int16
		var origin, target int32
		err := row.Scan(&seg.ID, &typ, &origin, &seg.OriginSlice, &target,
			&seg.Target1Slice, &seg.Target2Slice, &dir, &seg.Cost)
		seg.Type = store.SegmentType(typ)
		seg.OriginSection = uint32(origin)
		seg.TargetSection = uint32(target)
		seg.Direction = store.Direction(dir)
		return seg, err
	})
}

func (s *Store) EndSegments(ctx context.Context, ids []int64) ([]store.EndSegment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, section, slice_id, direction, cost FROM segment_end
		WHERE stack_id = $1 AND project_id = $2 AND id = ANY($3)
		ORDER BY id`,
		s.stack, s.project, ids)
	if err != nil {
		return nil, fmt.Errorf("query end segments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.EndSegment, error) {
		var e store.EndSegment
		var section int32
		var dir int16
		err := row.Scan(&e.ID, &section, &e.SliceID, &dir, &e.Cost)
		e.Section = uint32(section)
		e.Direction = store.Direction(dir)
		return e, err
	})
}

func (s *Store) ConstraintGroupsFor(ctx context.Context, variableIDs []int64) ([]int64, error) {
	if len(variableIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT constraint_id FROM segment_to_constraint
		WHERE stack_id = $1 AND project_id = $2 AND variable_id = ANY($3)
		ORDER BY constraint_id`,
		s.stack, s.project, variableIDs)
	if err != nil {
		return nil, fmt.Errorf("query constraint groups: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

type memberRow struct {
	group    int64
	variable int64
	end      bool
}

func (s *Store) GroupMembers(ctx context.Context, groupIDs []int64) ([]store.Group, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT constraint_id, variable_id, is_end FROM segment_to_constraint
		WHERE stack_id = $1 AND project_id = $2 AND constraint_id = ANY($3)
		ORDER BY constraint_id, variable_id`,
		s.stack, s.project, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memberRow, error) {
		var m memberRow
		err := row.Scan(&m.group, &m.variable, &m.end)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	return groupMembers(members), nil
}

// groupMembers folds rows ordered by group id into groups.
func groupMembers(rows []memberRow) []store.Group {
	var out []store.Group
	for _, m := range rows {
		if len(out) == 0 || out[len(out)-1].ID != m.group {
			out = append(out, store.Group{ID: m.group})
		}
		g := &out[len(out)-1]
		if m.end {
			g.EndSegments = append(g.EndSegments, m.variable)
		} else {
			g.Segments = append(g.Segments, m.variable)
		}
	}
	return out
}

// NearestSlice implements store.Snapper. Candidates come from the padded
// window; the closest box wins with ties broken by node id.
func (s *Store) NearestSlice(ctx context.Context, section uint32, p orb.Point, maxDist float64) (store.Slice, bool, error) {
	window := orb.Bound{Min: p, Max: p}.Pad(maxDist)
	candidates, err := s.SlicesInRegion(ctx, geo.Volume{
		X1: window.Min.X(), Y1: window.Min.Y(), Z1: section,
		X2: window.Max.X(), Y2: window.Max.Y(), Z2: section,
	})
	if err != nil {
		return store.Slice{}, false, err
	}

	bestDist := math.Inf(1)
	var best store.Slice
	for _, c := range candidates {
		d := geo.PointToBoxDist(p, c.Bound)
		if d < bestDist || (d == bestDist && c.NodeID < best.NodeID) {
			bestDist, best = d, c
		}
	}
	if bestDist > maxDist {
		return store.Slice{}, false, nil
	}
	return best, true, nil
}

// Counts implements store.Counter.
func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	var c store.Counts
	err := s.db.QueryRow(ctx, `
		SELECT
		  (SELECT count(*) FROM slices WHERE stack_id = $1 AND project_id = $2),
		  (SELECT count(*) FROM segments WHERE stack_id = $1 AND project_id = $2),
		  (SELECT count(*) FROM segment_end WHERE stack_id = $1 AND project_id = $2),
		  (SELECT count(DISTINCT constraint_id) FROM segment_to_constraint WHERE stack_id = $1 AND project_id = $2)`,
		s.stack, s.project).Scan(&c.Slices, &c.Segments, &c.EndSegments, &c.Groups)
	if err != nil {
		return store.Counts{}, fmt.Errorf("count records: %w", err)
	}
	return c, nil
}

// Import validates ds and copies it into the tables in one transaction.
func (s *Store) Import(ctx context.Context, ds *store.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range s.copyTables(ds) {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns, pgx.CopyFromRows(t.rows)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s already holds these ids: %v", store.ErrInvalidDataset, t.name, err)
			}
			return fmt.Errorf("copy %s: %w", t.name, err)
		}
	}
	return tx.Commit(ctx)
}

type copyTable struct {
	name    string
	columns []string
	rows    [][]any
}

func (s *Store) copyTables(ds *store.Dataset) []copyTable {
	slices := copyTable{name: "slices", columns: []string{
		"stack_id", "project_id", "node_id", "section", "slice_id", "min_x", "min_y", "max_x", "max_y"}}
	for _, r := range ds.Slices {
		slices.rows = append(slices.rows, []any{s.stack, s.project,
			store.FormatNodeID(r.Section, r.SliceID), int32(r.Section), r.SliceID, r.MinX, r.MinY, r.MaxX, r.MaxY})
	}

	segments := copyTable{name: "segments", columns: []string{
		"stack_id", "project_id", "id", "segmenttype", "origin_section", "origin_slice_id",
		"target_section", "target1_slice_id", "target2_slice_id", "direction", "cost"}}
	segs := make([]store.Segment, 0, len(ds.Segments))
	for _, r := range ds.Segments {
		var target2 *int64
		if r.Type == store.Branch {
			target2 = &r.Target2Slice
		}
		segments.rows = append(segments.rows, []any{s.stack, s.project, r.ID, int16(r.Type),
			int32(r.OriginSection), r.OriginSlice, int32(r.TargetSection), r.Target1Slice, target2,
			int16(r.Direction), r.Cost})
		segs = append(segs, r.Segment())
	}

	endTable := copyTable{name: "segment_end", columns: []string{
		"stack_id", "project_id", "id", "section", "slice_id", "direction", "cost"}}
	ends := make([]store.EndSegment, 0, len(ds.EndSegments))
	for _, r := range ds.EndSegments {
		endTable.rows = append(endTable.rows, []any{s.stack, s.project, r.ID, int32(r.Section), r.SliceID,
			int16(r.Direction), r.Cost})
		ends = append(ends, r.EndSegment())
	}

	assoc := copyTable{name: "slice_segment_map", columns: []string{
		"stack_id", "project_id", "slice_node_id", "variable_id", "direction", "is_end"}}
	for _, a := range store.DeriveAssociations(segs, ends) {
		assoc.rows = append(assoc.rows, []any{s.stack, s.project, a.SliceNodeID, a.VariableID,
			int16(a.Direction), a.End})
	}

	members := copyTable{name: "segment_to_constraint", columns: []string{
		"stack_id", "project_id", "constraint_id", "variable_id", "is_end"}}
	for _, g := range ds.Groups {
		for _, id := range g.Segments {
			members.rows = append(members.rows, []any{s.stack, s.project, g.ID, id, false})
		}
		for _, id := range g.EndSegments {
			members.rows = append(members.rows, []any{s.stack, s.project, g.ID, id, true})
		}
	}

	return []copyTable{slices, segments, endTable, assoc, members}
}

func scanSlice(row pgx.CollectableRow) (store.Slice, error) {
	var r store.SliceRecord
	var section int32
	err := row.Scan(&section, &r.SliceID, &r.MinX, &r.MinY, &r.MaxX, &r.MaxY)
	r.Section = uint32(section)
	return r.Slice(), err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
