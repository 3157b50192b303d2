package approval

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Requests []Request `yaml:"requests"`
}

// LoadSeed adds the requests listed in a YAML document and returns how many were added.
// Kind defaults to incident and SubmittedAt to now.
func (s *Store) LoadSeed(r io.Reader) (int, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	for i, req := range f.Requests {
		if req.Kind == "" {
			req.Kind = Incident
		}
		if req.Status == "" {
			req.Status = Pending
		}
		if req.SubmittedAt.IsZero() {
			req.SubmittedAt = s.now()
		}
		if err := s.Add(req); err != nil {
			return i, fmt.Errorf("seed request %d: %w", i, err)
		}
	}
	return len(f.Requests), nil
}
