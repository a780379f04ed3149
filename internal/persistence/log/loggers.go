package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files
// (<dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst).
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

type Option func(*JSONLZstdWriter)

// WithOnClose is called with the path of every file the writer finishes,
// either on rotation or on Close.
func WithOnClose(fn func(path string)) Option {
	return func(w *JSONLZstdWriter) { w.onClose = fn }
}

func WithClock(now func() time.Time) Option {
	return func(w *JSONLZstdWriter) { w.now = now }
}

func NewJSONLZstdWriter(baseDir, prefix string, opts ...Option) *JSONLZstdWriter {
	w := &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour || w.w == nil {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = path
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onClose != nil && w.curPath != "" {
			w.onClose(w.curPath)
		}
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// OutcomeRecord is one line of the outcome log.
type OutcomeRecord struct {
	Session string `json:"session"`
	matchlog.Entry
}

// OutcomeLogger writes every recorded match outcome (compressed).
type OutcomeLogger struct {
	session string
	w       *JSONLZstdWriter
}

func NewOutcomeLogger(dataDir, session string, opts ...Option) *OutcomeLogger {
	return &OutcomeLogger{session: session, w: NewJSONLZstdWriter(filepath.Join(dataDir, "outcomes"), "outcomes", opts...)}
}

func (l *OutcomeLogger) SetSession(id string) {
	l.w.mu.Lock()
	l.session = id
	l.w.mu.Unlock()
}

func (l *OutcomeLogger) WriteOutcome(e matchlog.Entry) error {
	l.w.mu.Lock()
	s := l.session
	l.w.mu.Unlock()
	return l.w.Write(OutcomeRecord{Session: s, Entry: e})
}

func (l *OutcomeLogger) Close() error { return l.w.Close() }

// FailureRecord is one line of the pathfinding failure log.
type FailureRecord struct {
	Session  string          `json:"session"`
	Tick     uint64          `json:"tick"`
	Vehicle  host.VehicleID  `json:"vehicle"`
	Source   host.BuildingID `json:"source"`
	Target   host.BuildingID `json:"target"`
	Category host.Category   `json:"category"`
}

type FailureLogger struct{ w *JSONLZstdWriter }

func NewFailureLogger(dataDir string, opts ...Option) *FailureLogger {
	return &FailureLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "failures"), "failures", opts...)}
}

func (l *FailureLogger) WriteFailure(v FailureRecord) error { return l.w.Write(v) }
func (l *FailureLogger) Close() error                       { return l.w.Close() }
