package platform

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// Platform describes where clips are delivered and how they must be encoded
// so they play there.
type Platform interface {
	// GetName returns the platform name
	GetName() string

	// GetMaxFileSize returns the maximum size of a single uploaded clip in bytes
	GetMaxFileSize() int64

	// GetVideoCodec returns the preferred video codec
	GetVideoCodec() string

	// GetAudioCodec returns the preferred audio codec
	GetAudioCodec() string

	// GetVideoBitrate returns the recommended video bitrate
	GetVideoBitrate() string

	// GetAudioBitrate returns the recommended audio bitrate
	GetAudioBitrate() string

	// GetOutputFormat returns the container, which is also the clip file extension
	GetOutputFormat() string
}

var (
	mu        sync.RWMutex
	platforms = make(map[string]Platform)
)

// Register adds a platform to the registry
func Register(p Platform) {
	mu.Lock()
	defer mu.Unlock()
	platforms[p.GetName()] = p
}

// Get returns a platform by name
func Get(name string) (Platform, error) {
	mu.RLock()
	defer mu.RUnlock()

	p, ok := platforms[name]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", name)
	}
	return p, nil
}

// GetSupportedPlatforms returns the registered platform names, sorted
func GetSupportedPlatforms() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
