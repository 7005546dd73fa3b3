package solver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"slice_tracer/pkg/problem"
)

// Scratch is the per-run problem file. It is created with a unique name and
// removed by Release, which is safe to call more than once.
type Scratch struct {
	path string

	once sync.Once
	err  error
}

// NewScratch creates an empty, uniquely named file in dir (os.TempDir() when
// dir is empty). runID becomes part of the name.
func NewScratch(dir, runID string) (*Scratch, error) {
	f, err := os.CreateTemp(dir, "problem-"+runID+"-*.txt")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close scratch file: %w", err)
	}
	return &Scratch{path: f.Name()}, nil
}

// Path returns the file location.
func (s *Scratch) Path() string {
	return s.path
}

// WriteProblem serializes p into the scratch file, replacing its contents.
func (s *Scratch) WriteProblem(p *problem.Problem) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("open scratch file: %w", err)
	}
	if err := problem.Write(f, p); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close scratch file: %w", err)
	}
	return nil
}

// Release removes the file. Later calls return the first call's result.
func (s *Scratch) Release() error {
	s.once.Do(func() {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.err = fmt.Errorf("remove scratch file: %w", err)
		}
	})
	return s.err
}
