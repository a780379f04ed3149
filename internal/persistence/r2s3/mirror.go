package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

// Stats is a point-in-time view of the mirror counters.
type Stats struct {
	Backlog     int
	BacklogCap  int
	Offered     uint64
	Saturated   uint64
	Dropped     uint64
	Uploaded    uint64
	Failed      uint64
	Skipped     uint64
	LastUpload  int64
	LastFailure int64
}

type MirrorOptions struct {
	// Prefix is prepended to every object key.
	Prefix        string
	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue waits on a full queue.
	EnqueueWait time.Duration
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff       time.Duration
	UploadTimeout time.Duration
	Logger        *log.Logger
}

func (o *MirrorOptions) defaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 25 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 2 * time.Minute
	}
	o.Prefix = normalizeObjectKey(o.Prefix)
}

// Mirror copies finished files under dataDir (save containers, closed
// outcome and failure logs) to the bucket. Keys are the file's path relative
// to dataDir, so the bucket layout matches the data directory.
type Mirror struct {
	up      Uploader
	dataDir string
	opts    MirrorOptions

	queue chan string
	wg    sync.WaitGroup
	once  sync.Once

	offered, saturated, dropped atomic.Uint64
	uploaded, failed, skipped   atomic.Uint64
	lastUpload, lastFailure     atomic.Int64
}

func NewMirror(up Uploader, dataDir string, opts MirrorOptions) *Mirror {
	opts.defaults()
	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		opts:    opts,
		queue:   make(chan string, opts.QueueCapacity),
	}
	m.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go m.worker()
	}
	return m
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for file := range m.queue {
		m.mirror(file)
	}
}

// Enqueue hands file to the workers. It waits at most EnqueueWait on a full
// queue, then drops the file. Safe on a nil Mirror.
func (m *Mirror) Enqueue(file string) {
	if m == nil || m.up == nil {
		return
	}
	m.offered.Add(1)
	select {
	case m.queue <- file:
		return
	default:
		m.saturated.Add(1)
	}
	t := time.NewTimer(m.opts.EnqueueWait)
	defer t.Stop()
	select {
	case m.queue <- file:
	case <-t.C:
		n := m.dropped.Add(1)
		m.printf("mirror: queue full, dropped %s (%d dropped so far)", file, n)
	}
}

// Close stops accepting work and returns once the backlog is uploaded.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.queue)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Backlog:     len(m.queue),
		BacklogCap:  cap(m.queue),
		Offered:     m.offered.Load(),
		Saturated:   m.saturated.Load(),
		Dropped:     m.dropped.Load(),
		Uploaded:    m.uploaded.Load(),
		Failed:      m.failed.Load(),
		Skipped:     m.skipped.Load(),
		LastUpload:  m.lastUpload.Load(),
		LastFailure: m.lastFailure.Load(),
	}
}

func (m *Mirror) mirror(file string) {
	key, err := m.ObjectKey(file)
	if err != nil {
		m.skipped.Add(1)
		m.printf("mirror: skipping %s: %v", file, err)
		return
	}
	attempts, err := m.put(key, file)
	if err != nil {
		m.failed.Add(1)
		m.lastFailure.Store(time.Now().Unix())
		m.printf("mirror: %s failed after %d attempts: %v", key, attempts, err)
		return
	}
	m.uploaded.Add(1)
	m.lastUpload.Store(time.Now().Unix())
	m.printf("mirror: %s uploaded", key)
}

// put tries the upload up to MaxAttempts times and reports how many it used.
func (m *Mirror) put(key, file string) (int, error) {
	delay := m.opts.Backoff
	var err error
	for n := 1; ; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.UploadTimeout)
		err = m.up.PutFile(ctx, key, file)
		cancel()
		if err == nil || n == m.opts.MaxAttempts {
			return n, err
		}
		time.Sleep(delay)
		delay *= 2
	}
}

// ObjectKey maps a file under the data dir to its bucket key. Files outside
// the data dir have no key.
func (m *Mirror) ObjectKey(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("empty path")
	}
	if _, err := os.Stat(file); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s is not under %s", abs, base)
	}
	key := normalizeObjectKey(filepath.ToSlash(rel))
	if m.opts.Prefix != "" {
		key = path.Join(m.opts.Prefix, key)
	}
	return key, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}
