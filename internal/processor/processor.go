package processor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/philocinemas/clipbot/internal/config"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_.]`)
	underscores = regexp.MustCompile(`_+`)
)

// RunDir returns a fresh output directory path under workDir. The name embeds
// the run identifier and the creation time so concurrent runs never collide.
// An empty runID gets a random UUID.
func RunDir(workDir, runID string, now time.Time) string {
	runID = sanitizeFilename(runID)
	if runID == "" {
		runID = uuid.NewString()
	}
	name := fmt.Sprintf("%s%s_%s", config.OutputDirPrefix, runID, now.Format(config.OutputDirTimeLayout))
	return filepath.Join(workDir, name)
}

// RunDirTime recovers the creation time embedded by RunDir.
func RunDirTime(dir string) (time.Time, bool) {
	name := filepath.Base(dir)
	if !strings.HasPrefix(name, config.OutputDirPrefix) {
		return time.Time{}, false
	}

	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return time.Time{}, false
	}

	created, err := time.ParseInLocation(config.OutputDirTimeLayout, name[idx+1:], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return created, true
}

func sanitizeFilename(filename string) string {
	sanitized := unsafeChars.ReplaceAllString(filename, "_")
	sanitized = underscores.ReplaceAllString(sanitized, "_")
	return strings.Trim(sanitized, "_")
}
