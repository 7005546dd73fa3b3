package problem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrMalformed is returned for problem files or solver output that do not
	// follow the wire format.
	ErrMalformed = errors.New("malformed solver wire data")

	// ErrNotEncodable is returned when a problem cannot be expressed on the
	// wire, e.g. a non-positive id that cannot carry a sign.
	ErrNotEncodable = errors.New("problem not encodable")
)

// Write renders p in the solver's input format:
//
//	1
//	N
//	<id> <cost>            N lines
//	M
//	== | <=
//	<k> <id_1> ... <id_k>  M lines
//	S
//	<k> <signed ids>       S lines, incoming positive, outgoing negative
func Write(w io.Writer, p *Problem) error {
	if p.Sense.Token() == "" {
		return fmt.Errorf("%w: sense is unset", ErrNotEncodable)
	}

	bw := bufio.NewWriter(w)
	var line []byte

	writeInts := func(vals []int64) {
		line = strconv.AppendInt(line[:0], int64(len(vals)), 10)
		for _, v := range vals {
			line = append(line, ' ')
			line = strconv.AppendInt(line, v, 10)
		}
		line = append(line, '\n')
		bw.Write(line)
	}

	fmt.Fprintf(bw, "1\n%d\n", len(p.Variables))
	for _, v := range p.Variables {
		if v.ID <= 0 {
			return fmt.Errorf("%w: variable id %d", ErrNotEncodable, v.ID)
		}
		line = strconv.AppendInt(line[:0], v.ID, 10)
		line = append(line, ' ')
		line = strconv.AppendFloat(line, v.Cost, 'g', -1, 64)
		line = append(line, '\n')
		bw.Write(line)
	}

	fmt.Fprintf(bw, "%d\n%s\n", len(p.Groups), p.Sense.Token())
	for _, g := range p.Groups {
		writeInts(g.Members)
	}

	fmt.Fprintf(bw, "%d\n", len(p.Buckets))
	signed := make([]int64, 0, 8)
	for _, b := range p.Buckets {
		signed = signed[:0]
		for _, t := range b.Terms {
			if t.Var <= 0 {
				return fmt.Errorf("%w: bucket %s has variable id %d", ErrNotEncodable, b.Slice, t.Var)
			}
			if t.Role == Outgoing {
				signed = append(signed, -t.Var)
			} else {
				signed = append(signed, t.Var)
			}
		}
		writeInts(signed)
	}

	return bw.Flush()
}

// lineReader yields trimmed, non-empty lines with their 1-based number.
type lineReader struct {
	sc   *bufio.Scanner
	line int
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	return &lineReader{sc: sc}
}

func (lr *lineReader) next() ([]string, error) {
	for lr.sc.Scan() {
		lr.line++
		f := strings.Fields(lr.sc.Text())
		if len(f) > 0 {
			return f, nil
		}
	}
	if err := lr.sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: unexpected end of input after line %d", ErrMalformed, lr.line)
}

func (lr *lineReader) count() (int, error) {
	f, err := lr.next()
	if err != nil {
		return 0, err
	}
	if len(f) != 1 {
		return 0, fmt.Errorf("%w: line %d: want a single count", ErrMalformed, lr.line)
	}
	n, err := strconv.Atoi(f[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: line %d: bad count %q", ErrMalformed, lr.line, f[0])
	}
	return n, nil
}

// counted parses "<k> <v_1> ... <v_k>".
func (lr *lineReader) counted() ([]int64, error) {
	f, err := lr.next()
	if err != nil {
		return nil, err
	}
	return parseCounted(f, lr.line)
}

func parseCounted(f []string, line int) ([]int64, error) {
	k, err := strconv.Atoi(f[0])
	if err != nil || k < 0 {
		return nil, fmt.Errorf("%w: line %d: bad count %q", ErrMalformed, line, f[0])
	}
	if len(f)-1 != k {
		return nil, fmt.Errorf("%w: line %d: count %d but %d values", ErrMalformed, line, k, len(f)-1)
	}
	vals := make([]int64, k)
	for i, s := range f[1:] {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad id %q", ErrMalformed, line, s)
		}
		vals[i] = v
	}
	return vals, nil
}

// Parse reads a problem written by Write. Group ids and bucket slice ids are
// not part of the format and come back zero-valued; variable kinds come back
// as Continuation.
func Parse(r io.Reader) (*Problem, error) {
	lr := newLineReader(r)

	sub, err := lr.count()
	if err != nil {
		return nil, err
	}
	if sub != 1 {
		return nil, fmt.Errorf("%w: subproblem count %d, want 1", ErrMalformed, sub)
	}

	n, err := lr.count()
	if err != nil {
		return nil, err
	}
	p := &Problem{Variables: make([]Variable, 0, n)}
	for i := 0; i < n; i++ {
		f, err := lr.next()
		if err != nil {
			return nil, err
		}
		if len(f) != 2 {
			return nil, fmt.Errorf("%w: line %d: want \"<id> <cost>\"", ErrMalformed, lr.line)
		}
		id, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad id %q", ErrMalformed, lr.line, f[0])
		}
		cost, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad cost %q", ErrMalformed, lr.line, f[1])
		}
		p.Variables = append(p.Variables, Variable{ID: id, Cost: cost})
	}

	m, err := lr.count()
	if err != nil {
		return nil, err
	}
	f, err := lr.next()
	if err != nil {
		return nil, err
	}
	if p.Sense, err = ParseSense(f[0]); err != nil || len(f) != 1 || (f[0] != "==" && f[0] != "<=") {
		return nil, fmt.Errorf("%w: line %d: bad sense token %q", ErrMalformed, lr.line, strings.Join(f, " "))
	}
	for i := 0; i < m; i++ {
		members, err := lr.counted()
		if err != nil {
			return nil, err
		}
		p.Groups = append(p.Groups, Group{Members: members})
	}

	s, err := lr.count()
	if err != nil {
		return nil, err
	}
	for i := 0; i < s; i++ {
		vals, err := lr.counted()
		if err != nil {
			return nil, err
		}
		b := Bucket{Terms: make([]Term, len(vals))}
		for j, v := range vals {
			switch {
			case v > 0:
				b.Terms[j] = Term{Var: v, Role: Incoming}
			case v < 0:
				b.Terms[j] = Term{Var: -v, Role: Outgoing}
			default:
				return nil, fmt.Errorf("%w: line %d: zero id in equality constraint", ErrMalformed, lr.line)
			}
		}
		p.Buckets = append(p.Buckets, b)
	}
	return p, nil
}

// ParseSolverOutput interprets the solver's stdout: line 1 is a banner, line 2
// the feasibility flag ("0" means infeasible), line 3 "<count> <id> ...".
// For an infeasible result feasible is false and the solution is empty.
func ParseSolverOutput(stdout string) (sol Solution, feasible bool, err error) {
	lines := strings.Split(strings.ReplaceAll(stdout, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return Solution{}, false, fmt.Errorf("%w: solver output has %d lines", ErrMalformed, len(lines))
	}

	flag, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return Solution{}, false, fmt.Errorf("%w: feasibility flag %q", ErrMalformed, strings.TrimSpace(lines[1]))
	}
	if flag == 0 {
		return Solution{}, false, nil
	}

	if len(lines) < 3 {
		return Solution{}, true, fmt.Errorf("%w: feasible result without selection line", ErrMalformed)
	}
	f := strings.Fields(lines[2])
	if len(f) == 0 {
		return Solution{}, true, fmt.Errorf("%w: empty selection line", ErrMalformed)
	}
	ids, err := parseCounted(f, 3)
	if err != nil {
		return Solution{}, true, err
	}
	return Solution{Selected: ids}, true, nil
}
