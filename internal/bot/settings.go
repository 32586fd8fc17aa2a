package bot

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/philocinemas/clipbot/pkg/types"
)

// Settings holds each requester's clip length on top of shared defaults.
type Settings struct {
	mu       sync.RWMutex
	defaults types.TransformParameters
	lengths  map[int64]int
}

func NewSettings(defaults types.TransformParameters) *Settings {
	return &Settings{
		defaults: defaults,
		lengths:  make(map[int64]int),
	}
}

// Parameters returns a copy of the parameters for requester's next run.
func (s *Settings) Parameters(requester int64) types.TransformParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()

	params := s.defaults
	if length, ok := s.lengths[requester]; ok {
		params.SegmentLength = length
	}
	return params
}

func (s *Settings) SetLength(requester int64, seconds int) error {
	if seconds <= 0 {
		return errors.Wrap(types.ErrInvalidParameter, "duration must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lengths[requester] = seconds
	return nil
}

// ParseLength reads a clip length typed by the user, e.g. "30" or "30s".
func ParseLength(text string) (int, error) {
	text = strings.TrimSuffix(strings.TrimSpace(text), "s")
	seconds, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, errors.Wrapf(types.ErrInvalidParameter, "%q is not a number", text)
	}
	if seconds <= 0 {
		return 0, errors.Wrap(types.ErrInvalidParameter, "duration must be positive")
	}
	return seconds, nil
}
