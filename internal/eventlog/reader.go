package eventlog

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
)

// SegmentFiles lists a session's NDJSON segment files, oldest first (the
// active stream.ndjson last), without requiring a live Writer (used by
// internal/diag to tail a session's log from a separate process).
func SegmentFiles(sessionDir string) ([]string, error) {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, err
	}

	type seg struct {
		n    int
		name string
	}
	var rotated []seg
	hasActive := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == activeFileName {
			hasActive = true
			continue
		}
		if n, ok := isRotatedSegmentName(name); ok {
			rotated = append(rotated, seg{n, name})
		}
	}
	sort.Slice(rotated, func(i, j int) bool { return rotated[i].n < rotated[j].n })

	out := make([]string, 0, len(rotated)+1)
	for _, s := range rotated {
		out = append(out, filepath.Join(sessionDir, s.name))
	}
	if hasActive {
		out = append(out, filepath.Join(sessionDir, activeFileName))
	}
	return out, nil
}

// ReadTail returns up to maxLines of the most recent NDJSON lines across
// sessionDir's segment files, oldest first. It reads whole files rather
// than seeking from the end, since segments are bounded by
// DefaultMaxSegmentBytes and acpx favors simplicity over avoiding a full
// read of a capped-size file.
func ReadTail(sessionDir string, maxLines int) ([]string, error) {
	files, err := SegmentFiles(sessionDir)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		f.Close()
	}

	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}
