package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sentra/internal/domain"
	"sentra/internal/metrics"

	"github.com/google/uuid"
)

const (
	defaultBufferSize    = 50
	defaultFlushInterval = 5 * time.Second
	defaultMaxFileSize   = 10 * 1024 * 1024
	logFilePrefix        = "audit-"
	logFileExt           = ".log"
)

// Config controls the append-only log.
type Config struct {
	Dir           string
	BufferSize    int
	FlushInterval time.Duration
	MaxFileSize   int64
	Patterns      []domain.SuspiciousPattern
	Retention     RetentionConfig
}

// Notifier delivers pattern alerts out of process. Implementations must not
// block; delivery failures are their own problem to report.
type Notifier interface {
	Notify(ctx context.Context, alert domain.PatternAlert)
}

// Logger is the append-only, hash-chained audit log. The chain invariant is
// enforced at the single append point. Callers never see logging errors;
// failures go to the slog fallback channel.
type Logger struct {
	cfg      Config
	logger   *slog.Logger
	detector *Detector
	index    *Index
	notifier Notifier
	bus      domain.EventBus

	mu       sync.Mutex
	buf      []domain.AuditEntry
	seq      uint64
	lastHash string
	file     *os.File
	fileSize int64
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type Option func(*Logger)

// WithIndex attaches a queryable sqlite index; entries and alerts are
// mirrored into it on flush, best effort.
func WithIndex(ix *Index) Option { return func(l *Logger) { l.index = ix } }

// WithNotifier routes notify/webhook/email alert actions.
func WithNotifier(n Notifier) Option { return func(l *Logger) { l.notifier = n } }

// WithBus publishes pattern-alert events for subscribers.
func WithBus(b domain.EventBus) Option { return func(l *Logger) { l.bus = b } }

func New(cfg Config, logger *slog.Logger, opts ...Option) (*Logger, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create audit directory %s: %w", cfg.Dir, err)
	}

	l := &Logger{
		cfg:      cfg,
		logger:   logger,
		detector: NewDetector(cfg.Patterns, logger),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.recover(); err != nil {
		return nil, err
	}

	l.wg.Add(1)
	go l.flushLoop()
	return l, nil
}

// recover restores sequence and chain head from the newest log file.
func (l *Logger) recover() error {
	files, err := logFiles(l.cfg.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	newest := files[len(files)-1]
	last, err := readLastEntry(newest)
	if err != nil {
		return fmt.Errorf("recover audit state from %s: %w", newest, err)
	}
	if last != nil {
		l.seq = last.Sequence + 1
		l.lastHash = last.Hash
	}

	info, err := os.Stat(newest)
	if err != nil {
		return err
	}
	if info.Size() < l.cfg.MaxFileSize {
		f, err := os.OpenFile(newest, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("reopen audit file: %w", err)
		}
		l.file = f
		l.fileSize = info.Size()
	}
	return nil
}

// Log appends an entry to the chain. It never returns an error: audit
// failures are reported on the fallback channel and must not break callers.
func (l *Logger) Log(ctx context.Context, e domain.AuditEntry) {
	e, ok := l.append(e)
	if !ok || l.detector == nil {
		return
	}
	for _, alert := range l.detector.Observe(e) {
		l.raise(ctx, alert)
	}
}

// append is the single point of truth for the hash-chain invariant.
func (l *Logger) append(e domain.AuditEntry) (domain.AuditEntry, bool) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Source == "" {
		e.Source = "core"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.logger.Warn("audit entry after close, dropping", "action", e.Action)
		return e, false
	}

	e.Sequence = l.seq
	e.PreviousHash = l.lastHash
	hash, err := ComputeHash(e)
	if err != nil {
		l.logger.Error("audit entry not hashable, dropping", "action", e.Action, "err", err)
		return e, false
	}
	e.Hash = hash
	l.seq++
	l.lastHash = hash
	l.buf = append(l.buf, e)
	metrics.AuditEntriesTotal.Inc()

	if len(l.buf) >= l.cfg.BufferSize {
		if err := l.flushLocked(); err != nil {
			l.logger.Error("audit flush failed", "err", err)
		}
	}
	return e, true
}

// raise executes a fired pattern's actions. Only log and notify are handled
// in-core; webhook/email go through the notifier and block_session is left
// to bus subscribers.
func (l *Logger) raise(ctx context.Context, alert domain.PatternAlert) {
	metrics.PatternAlertsTotal.Inc()
	l.logger.Warn("suspicious pattern triggered",
		"pattern", alert.PatternName,
		"count", alert.Count,
	)

	if l.bus != nil {
		l.bus.Publish(domain.Event{
			Type:      domain.EventPatternAlert,
			Timestamp: alert.Timestamp,
			Payload: map[string]any{
				"alertId":     alert.ID,
				"patternId":   alert.PatternID,
				"patternName": alert.PatternName,
				"count":       alert.Count,
				"message":     alert.Message,
				"actions":     alert.Actions,
			},
		})
	}
	if l.index != nil {
		if err := l.index.InsertAlert(ctx, alert); err != nil {
			l.logger.Warn("alert index insert failed", "err", err)
		}
	}

	for _, action := range alert.Actions {
		switch action {
		case "log":
			l.append(domain.AuditEntry{
				Category: domain.CategoryAlert,
				Severity: domain.AuditWarning,
				Message:  alert.Message,
				Action:   "pattern_alert",
				Allowed:  false,
				Reason:   alert.PatternName,
				Source:   "detector",
				Context:  map[string]any{"patternId": alert.PatternID, "count": alert.Count},
			})
		case "notify", "webhook", "email":
			if l.notifier != nil {
				l.notifier.Notify(ctx, alert)
			} else {
				l.logger.Warn("no notifier configured for alert action", "action", action)
			}
		}
	}
}

// Flush writes all buffered entries to the current log file. Atomic with
// respect to concurrent appends.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Logger) flushLocked() error {
	if len(l.buf) == 0 {
		return nil
	}
	if l.file == nil {
		if err := l.openNewFileLocked(); err != nil {
			return err
		}
	}

	for _, e := range l.buf {
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Error("audit entry serialize failed on flush", "id", e.ID, "err", err)
			continue
		}
		line = append(line, '\n')
		n, err := l.file.Write(line)
		if err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		l.fileSize += int64(n)

		if l.index != nil {
			if err := l.index.InsertEntry(context.Background(), e); err != nil {
				l.logger.Warn("audit index insert failed", "id", e.ID, "err", err)
			}
		}
	}
	l.buf = l.buf[:0]

	if l.fileSize >= l.cfg.MaxFileSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) openNewFileLocked() error {
	path := filepath.Join(l.cfg.Dir, fmt.Sprintf("%s%019d%s", logFilePrefix, time.Now().UnixNano(), logFileExt))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create audit file: %w", err)
	}
	l.file = f
	l.fileSize = 0
	return nil
}

func (l *Logger) rotateLocked() error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.logger.Warn("close rotated audit file", "err", err)
		}
		l.file = nil
	}
	if err := l.openNewFileLocked(); err != nil {
		return err
	}
	current := l.file.Name()
	go func() {
		if err := EnforceRetention(l.cfg.Dir, current, l.cfg.Retention, l.logger); err != nil {
			l.logger.Warn("audit retention failed", "err", err)
		}
	}()
	return nil
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.logger.Error("periodic audit flush failed", "err", err)
			}
		case <-l.stop:
			return
		}
	}
}

// ReadAll flushes and returns every retained entry in chain order.
func (l *Logger) ReadAll() ([]domain.AuditEntry, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}
	files, err := logFiles(l.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var entries []domain.AuditEntry
	for _, path := range files {
		fileEntries, err := readEntries(path)
		if err != nil {
			return entries, err
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

// VerifyIntegrity replays the full chain. An invalid result is a distinct,
// high-severity condition; it is reported, never silently corrected.
func (l *Logger) VerifyIntegrity() (VerifyResult, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return VerifyResult{}, err
	}
	res := Verify(entries)
	if !res.Valid {
		l.logger.Error("audit chain integrity failure",
			"brokenAt", res.BrokenAt,
			"reason", res.Reason,
		)
		if l.bus != nil {
			l.bus.Publish(domain.Event{
				Type:      domain.EventIntegrityFailure,
				Timestamp: time.Now(),
				Payload:   map[string]any{"brokenAt": res.BrokenAt, "reason": res.Reason},
			})
		}
	}
	return res, nil
}

// Close stops the flush loop, writes remaining entries and closes the file.
func (l *Logger) Close() error {
	close(l.stop)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.flushLocked()
	if l.file != nil {
		if cerr := l.file.Close(); err == nil {
			err = cerr
		}
		l.file = nil
	}
	l.closed = true
	return err
}

// Dir returns the log directory (for the integrity watcher).
func (l *Logger) Dir() string { return l.cfg.Dir }

func logFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, logFileExt) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	// Names embed zero-padded creation nanos, so lexical order is age order.
	sort.Strings(files)
	return files, nil
}

func readEntries(path string) ([]domain.AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	var entries []domain.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return entries, fmt.Errorf("decode audit entry in %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func readLastEntry(path string) (*domain.AuditEntry, error) {
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[len(entries)-1], nil
}
