// Package eventlog implements the append-only NDJSON event log described
// in spec.md §4.4: one line per JSON-RPC message passed to AppendMessage,
// rotated by size and bounded by segment count.
//
// Rotation is delegated to gopkg.in/natefinch/lumberjack.v2, the rolling
// file primitive used elsewhere in the retrieved corpus for exactly this
// shape of problem (bounded, rotated, append-only log files). Lumberjack
// renames the active file to a timestamped backup on rotation, not
// spec.md's literal "stream.<n>.ndjson" numbering, so reconcileSegments renames
// each backup to its segmentName the moment it notices it and prunes whatever
// falls past maxSegments, giving the on-disk contract spec.md §3/§6.3
// describe without hand-rolling rotation itself.
package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/acpxdev/acpx/internal/model"
)

const (
	// DefaultMaxSegmentBytes is used when a caller passes 0.
	DefaultMaxSegmentBytes int64 = 10 * 1024 * 1024
	// DefaultMaxSegments is used when a caller passes 0.
	DefaultMaxSegments = 5

	activeFileName = "stream.ndjson"
	rotatedPrefix  = "stream."
	rotatedSuffix  = ".ndjson"

	// lumberjackMaxSizeMB is set far above any maxSegmentBytes callers
	// configure: lumberjack's own MaxSize rotation is in whole megabytes,
	// too coarse for spec.md §3's exact byte threshold, so rotation is
	// instead driven by the Writer's own byte counter via an explicit
	// lj.Rotate() call, and lumberjack's size check never fires first.
	lumberjackMaxSizeMB = 1 << 20
)

// segmentName is the spec.md §3 on-disk name for the n'th rotated
// segment: "stream.<n>.ndjson".
func segmentName(n int) string {
	return fmt.Sprintf("%s%d%s", rotatedPrefix, n, rotatedSuffix)
}

// isRotatedSegmentName reports whether name matches segmentName's shape,
// returning its segment number.
func isRotatedSegmentName(name string) (int, bool) {
	if !strings.HasPrefix(name, rotatedPrefix) || !strings.HasSuffix(name, rotatedSuffix) {
		return 0, false
	}
	mid := name[len(rotatedPrefix) : len(name)-len(rotatedSuffix)]
	n, err := strconv.Atoi(mid)
	if err != nil || mid == "" {
		return 0, false
	}
	return n, true
}

// rpcEnvelope is the minimal shape needed to classify a line as a
// response (has id, and result xor error, no method) for lastRequestId
// bookkeeping, per spec.md §6.1.
type rpcEnvelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (e rpcEnvelope) isResponse() bool {
	return e.Method == "" && len(e.ID) > 0 && (len(e.Result) > 0 || len(e.Error) > 0)
}

// Writer appends JSON-RPC messages to a session's rolling NDJSON segment.
type Writer struct {
	mu             sync.Mutex
	dir            string
	lj             *lumberjack.Logger
	broken         bool
	lastErr        string
	lastSeq        uint64
	lastReqID      string
	maxBytes       int64
	maxSegs        int
	writtenBytes   int64
	nextSegmentNum int
}

// Open creates (or reuses) the segment directory for recordID and returns
// a ready Writer. If the active segment cannot be created, the writer
// degrades to drop-with-error mode instead of failing the caller: per
// spec.md §4.4, a broken event log must never crash the owner.
func Open(sessionDir string, maxSegmentBytes int64, maxSegments int, startSeq uint64, startReqID string) *Writer {
	if maxSegmentBytes <= 0 {
		maxSegmentBytes = DefaultMaxSegmentBytes
	}
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}

	w := &Writer{
		dir:       sessionDir,
		maxBytes:  maxSegmentBytes,
		maxSegs:   maxSegments,
		lastSeq:   startSeq,
		lastReqID: startReqID,
	}

	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		w.broken = true
		w.lastErr = fmt.Sprintf("mkdir session dir: %v", err)
		return w
	}

	w.nextSegmentNum = w.highestExistingSegmentNum()
	w.reconcileSegments()

	w.lj = &lumberjack.Logger{
		Filename:   filepath.Join(sessionDir, activeFileName),
		MaxSize:    lumberjackMaxSizeMB,
		MaxBackups: 0, // pruning is done by reconcileSegments, not lumberjack
		LocalTime:  true,
	}
	f, err := os.OpenFile(w.lj.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.broken = true
		w.lastErr = fmt.Sprintf("open active segment: %v", err)
		return w
	}
	f.Close()
	if info, err := os.Stat(w.lj.Filename); err == nil {
		w.writtenBytes = info.Size()
	}
	return w
}

// AppendOptions controls per-append behavior.
type AppendOptions struct {
	// Checkpoint requests the caller reflect the manifest into the
	// session record after this append (the writer itself holds no
	// record reference, per the "no shared mutable record" design note).
	Checkpoint bool
}

// AppendMessage writes one NDJSON line for msg (a raw ACP JSON-RPC
// message), incrementing LastSeq and, if msg is a response, recording its
// id as LastRequestID. Rotation is evaluated against maxSegmentBytes after
// every write. Failures are recorded into LastWriteError and never
// returned to the caller as a hard error: the writer degrades to a no-op
// instead of taking down the owner.
func (w *Writer) AppendMessage(msg json.RawMessage, _ AppendOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken {
		return nil
	}

	line := append(bytes.TrimRight(msg, "\n"), '\n')
	if _, err := w.lj.Write(line); err != nil {
		w.lastErr = err.Error()
		return nil
	}

	w.lastSeq++
	w.lastErr = ""
	w.writtenBytes += int64(len(line))

	if w.writtenBytes >= w.maxBytes {
		if err := w.lj.Rotate(); err != nil {
			w.lastErr = fmt.Sprintf("rotate: %v", err)
		} else {
			w.writtenBytes = 0
			w.reconcileSegments()
		}
	}

	var env rpcEnvelope
	if json.Unmarshal(msg, &env) == nil && env.isResponse() {
		w.lastReqID = string(bytes.Trim(env.ID, `"`))
	}
	return nil
}

// reconcileSegments renames whatever backup lumberjack just rotated the
// active file into its spec.md §3 "stream.<n>.ndjson" name, then drops
// the oldest rotated segments once there are more than maxSegs. Callers
// must hold w.mu (or, during Open, run before the Writer is published).
func (w *Writer) reconcileSegments() {
	if w.dir == "" {
		return
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}

	var pending []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == activeFileName {
			continue
		}
		if _, ok := isRotatedSegmentName(name); ok {
			continue
		}
		// Anything else left by lumberjack's own backup naming
		// (<stem>-<timestamp><ext>) is an unrenamed rotated segment.
		pending = append(pending, name)
	}
	sort.Strings(pending) // lumberjack's timestamp suffix sorts chronologically

	for _, name := range pending {
		w.nextSegmentNum++
		oldPath := filepath.Join(w.dir, name)
		newPath := filepath.Join(w.dir, segmentName(w.nextSegmentNum))
		if err := os.Rename(oldPath, newPath); err != nil {
			w.lastErr = fmt.Sprintf("rename rotated segment: %v", err)
		}
	}

	w.pruneOldSegments()
}

// pruneOldSegments implements spec.md §3's "once segmentCount > maxSegments,
// drop the oldest segment": segmentCount (model.EventLogManifest) counts the
// active segment too, so the rotated files this keeps are capped at
// maxSegs-1.
func (w *Writer) pruneOldSegments() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	type seg struct {
		n    int
		name string
	}
	var segs []seg
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := isRotatedSegmentName(e.Name()); ok {
			segs = append(segs, seg{n, e.Name()})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].n < segs[j].n })

	limit := w.maxSegs - 1
	if limit < 0 {
		limit = 0
	}
	for len(segs) > limit {
		oldest := segs[0]
		_ = os.Remove(filepath.Join(w.dir, oldest.name))
		segs = segs[1:]
	}
}

// highestExistingSegmentNum scans dir for already-rotated segments from a
// prior process so a fresh Writer continues numbering instead of
// overwriting them.
func (w *Writer) highestExistingSegmentNum() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0
	}
	max := 0
	for _, e := range entries {
		if n, ok := isRotatedSegmentName(e.Name()); ok && n > max {
			max = n
		}
	}
	return max
}

// LastSeq returns the current monotonically increasing sequence number.
func (w *Writer) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// LastRequestID returns the id of the most recently appended response.
func (w *Writer) LastRequestID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReqID
}

// Manifest snapshots the event log's on-disk state for persistence into
// the session record.
func (w *Writer) Manifest() model.EventLogManifest {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := model.EventLogManifest{
		MaxSegmentBytes: w.maxBytes,
		MaxSegments:     w.maxSegs,
		LastWriteAt:     time.Now(),
		LastWriteError:  w.lastErr,
	}
	if w.lj != nil {
		m.ActivePath = w.lj.Filename
	}
	m.SegmentCount = w.segmentCountLocked()
	return m
}

// segmentCountLocked counts the active segment plus the rotated
// stream.<n>.ndjson segments reconcileSegments has retained.
func (w *Writer) segmentCountLocked() int {
	if w.dir == "" {
		return 0
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == activeFileName {
			count++
			continue
		}
		if _, ok := isRotatedSegmentName(name); ok {
			count++
		}
	}
	return count
}

// Segments lists segment file paths, oldest first (active segment last),
// for replay/inspection tooling (internal/diag).
func (w *Writer) Segments() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil
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
		out = append(out, filepath.Join(w.dir, s.name))
	}
	if hasActive {
		out = append(out, filepath.Join(w.dir, activeFileName))
	}
	return out
}

// Close flushes the underlying file. If checkpoint is true the caller
// should persist Manifest() into the session record immediately after.
func (w *Writer) Close(checkpoint bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lj == nil {
		return nil
	}
	return w.lj.Close()
}

// Broken reports whether the writer degraded to drop-with-error mode on
// open (e.g. the session directory could not be created).
func (w *Writer) Broken() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken
}
