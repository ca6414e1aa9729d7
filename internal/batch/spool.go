package batch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Spool polls a directory and ingests every payload file that appeared
// since the previous scan. A file is picked up again only if its size or
// modification time changes.
type Spool struct {
	dir      string
	interval time.Duration
	runner   *Runner
	log      *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	seenMu sync.Mutex
	seen   map[string]fileStamp
	last   Summary
	lastAt time.Time
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

type SpoolStatus struct {
	Running  bool      `json:"running"`
	Dir      string    `json:"dir"`
	Interval string    `json:"interval"`
	Seen     int       `json:"seen"`
	LastScan time.Time `json:"lastScan,omitempty"`
	Last     Summary   `json:"last"`
}

func NewSpool(dir string, interval time.Duration, runner *Runner, logger *slog.Logger) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("spool dir must not be empty")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if runner == nil {
		return nil, errors.New("runner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Spool{
		dir:      dir,
		interval: interval,
		runner:   runner,
		log:      logger,
		done:     make(chan struct{}),
		seen:     make(map[string]fileStamp),
	}, nil
}

// Start begins polling with an immediate scan. It reports false if the
// spool is already running.
func (s *Spool) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.loop(ctx)
	return true
}

func (s *Spool) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("spool started", slog.String("dir", s.dir), slog.String("interval", s.interval.String()))

	s.safeScan(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("spool stopping")
			return
		case <-ticker.C:
			s.safeScan(ctx)
		}
	}
}

// Stop cancels any scan in progress and waits for the loop to exit.
func (s *Spool) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("spool stopped")
	return true
}

func (s *Spool) IsRunning() bool {
	return s.running.Load()
}

// Run ties the spool to ctx for use under an errgroup.
func (s *Spool) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Spool) Status() SpoolStatus {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return SpoolStatus{
		Running:  s.IsRunning(),
		Dir:      s.dir,
		Interval: s.interval.String(),
		Seen:     len(s.seen),
		LastScan: s.lastAt,
		Last:     s.last,
	}
}

func (s *Spool) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("spool scan panic recovered", slog.Any("panic", r))
		}
	}()

	start := time.Now()
	n := s.scan(ctx)
	s.log.Debug("spool scan completed",
		slog.Int("files", n),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

// scan ingests new files and returns how many it processed.
func (s *Spool) scan(ctx context.Context) int {
	files, err := ListDir(s.dir)
	if err != nil {
		s.log.Error("spool list failed", slog.String("dir", s.dir), slog.Any("err", err))
		return 0
	}

	var (
		fresh  []File
		stamps = make(map[string]fileStamp)
	)
	s.seenMu.Lock()
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			continue
		}
		st := fileStamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := s.seen[f.Name]; ok && prev.size == st.size && prev.modTime.Equal(st.modTime) {
			continue
		}
		fresh = append(fresh, f)
		stamps[f.Name] = st
	}
	s.seenMu.Unlock()

	if len(fresh) == 0 {
		return 0
	}

	sum := s.runner.Run(ctx, fresh)

	s.seenMu.Lock()
	for _, r := range sum.Results {
		s.seen[r.File] = stamps[r.File]
	}
	s.last = sum
	s.lastAt = time.Now().UTC()
	s.seenMu.Unlock()

	return sum.Files
}
