package retention

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

// DefaultDelay is how long generated clips may live.
const DefaultDelay = 24 * time.Hour

// Pending describes a registered deletion.
type Pending struct {
	Dir string    `json:"dir"`
	Due time.Time `json:"due"`
}

type entry struct {
	id    uint64
	timer *time.Timer
	due   time.Time
}

// Scheduler owns every deferred directory deletion of the process. Each
// directory has at most one pending deletion, which fires once.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*entry
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		pending: make(map[string]*entry),
		logger:  log.With().Str("module", "retention").Logger(),
	}
}

// Schedule deletes dir and its contents after delay. It never blocks; a
// deletion already pending for dir is replaced.
func (s *Scheduler) Schedule(dir string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn().Str("dir", dir).Msg("scheduler stopped, deletion not registered")
		return
	}

	if prev, ok := s.pending[dir]; ok {
		prev.timer.Stop()
	}

	s.nextID++
	id := s.nextID
	s.pending[dir] = &entry{
		id:    id,
		due:   time.Now().Add(delay),
		timer: time.AfterFunc(delay, func() { s.fire(dir, id) }),
	}

	s.logger.Debug().Str("dir", dir).Dur("delay", delay).Msg("deletion scheduled")
}

// Cancel drops the pending deletion of dir. It reports whether one was pending.
func (s *Scheduler) Cancel(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[dir]
	if !ok {
		return false
	}

	e.timer.Stop()
	delete(s.pending, dir)
	s.logger.Debug().Str("dir", dir).Msg("deletion cancelled")
	return true
}

// Pending lists registered deletions, soonest first.
func (s *Scheduler) Pending() []Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]Pending, 0, len(s.pending))
	for dir, e := range s.pending {
		res = append(res, Pending{Dir: dir, Due: e.due})
	}
	slices.SortFunc(res, func(a, b Pending) int {
		return a.Due.Compare(b.Due)
	})
	return res
}

// Stop drops every pending deletion and waits for running ones to finish.
// Directories left behind are picked up by Resume on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for dir, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, dir)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Resume registers deletions for run directories under root that outlived a
// previous process. created extracts a directory's creation time from its
// name; directories it does not recognise are ignored.
func (s *Scheduler) Resume(root string, window time.Duration, created func(dir string) (time.Time, bool)) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, errors.Wrapf(err, "listing %s", root)
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		dir := filepath.Join(root, e.Name())
		at, ok := created(dir)
		if !ok {
			continue
		}

		s.Schedule(dir, time.Until(at.Add(window)))
		count++
	}

	if count > 0 {
		s.logger.Info().Str("root", root).Int("count", count).Msg("resumed pending deletions")
	}
	return count, nil
}

func (s *Scheduler) fire(dir string, id uint64) {
	s.mu.Lock()
	e, ok := s.pending[dir]
	if !ok || e.id != id || s.stopped {
		// replaced or cancelled after the timer already fired
		s.mu.Unlock()
		return
	}
	delete(s.pending, dir)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	_ = Purge(dir, s.logger)
}

// Purge removes every entry of dir one by one, then dir itself. Entry
// failures are logged and skipped. The final remove is not recursive: if
// anything is left the error is logged with the leftovers and returned.
func Purge(dir string, logger zerolog.Logger) error {
	logger = logger.With().Str("dir", dir).Logger()
	logger.Info().Msg("deleting files")

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logger.Debug().Msg("directory already gone")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("error listing directory")
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error().Err(err).Str("file", path).Msg("error deleting file")
		}
	}

	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		var leftovers []string
		if rest, lerr := os.ReadDir(dir); lerr == nil {
			for _, e := range rest {
				leftovers = append(leftovers, e.Name())
			}
		}
		logger.Error().Err(err).Strs("leftovers", leftovers).Msg("directory not removed, undelivered files remain")
		return errors.Wrapf(err, "removing %s", dir)
	}

	logger.Info().Msg("deleted directory")
	return nil
}
