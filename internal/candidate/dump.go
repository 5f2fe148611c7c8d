package candidate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// SaveAll writes every candidate into dir as numbered PNG files, ordered
// the same way recognition tries them. Used by the offline harness to
// inspect what the generator produced for a troublesome image.
func SaveAll(dir string, cands []Candidate) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	for i, c := range cands {
		name := filepath.Join(dir, fmt.Sprintf("%02d_%s.png", i+1, c.Label))
		if err := imaging.Save(c.Image, name); err != nil {
			return fmt.Errorf("failed to save candidate %s: %w", c.Label, err)
		}
	}
	return nil
}
