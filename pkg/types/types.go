package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidParameter is returned before any I/O when pipeline parameters are unusable.
var ErrInvalidParameter = errors.New("invalid parameter")

// AspectRatio is a width:height pair, e.g. 9:16 for vertical stories.
type AspectRatio struct {
	W int
	H int
}

// Vertical is the 9:16 story format.
var Vertical = AspectRatio{W: 9, H: 16}

func (a AspectRatio) String() string {
	return fmt.Sprintf("%d:%d", a.W, a.H)
}

func (a AspectRatio) Validate() error {
	if a.W <= 0 || a.H <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "aspect ratio %d:%d must be a positive pair", a.W, a.H)
	}
	return nil
}

// ParseAspectRatio parses "w:h" (or "wxh").
func ParseAspectRatio(s string) (AspectRatio, error) {
	sep := ":"
	if !strings.Contains(s, sep) {
		sep = "x"
	}
	parts := strings.Split(strings.TrimSpace(s), sep)
	if len(parts) != 2 {
		return AspectRatio{}, errors.Wrapf(ErrInvalidParameter, "malformed aspect ratio %q", s)
	}

	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return AspectRatio{}, errors.Wrapf(ErrInvalidParameter, "malformed aspect ratio %q", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return AspectRatio{}, errors.Wrapf(ErrInvalidParameter, "malformed aspect ratio %q", s)
	}

	ratio := AspectRatio{W: w, H: h}
	return ratio, ratio.Validate()
}

// Span is a half-open time window [Start, End) of the source, in seconds.
type Span struct {
	Start float64
	End   float64
}

func (s Span) Duration() float64 {
	return s.End - s.Start
}

// TransformParameters are fixed for the whole run.
type TransformParameters struct {
	SegmentLength int
	Watermark     string
	AspectRatio   AspectRatio
}

func (p TransformParameters) Validate() error {
	if p.SegmentLength <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "segment length %d must be positive", p.SegmentLength)
	}
	return p.AspectRatio.Validate()
}

// Artifact is one produced clip. Ordinal is 1-based and follows source order.
type Artifact struct {
	Path    string
	Ordinal int
	Span    Span
}
