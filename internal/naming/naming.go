// Package naming picks safe on-disk names for uploaded and downloaded files.
package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// Fallback is used when nothing usable is left of a declared name.
	Fallback = "upload"
	// MaxSuffix is the last numbered suffix tried before a random name.
	MaxSuffix = 9

	maxNameLen = 200
	filePerm   = 0o644
)

// ErrExhausted is returned when neither the numbered suffixes nor the random
// fallback could be created.
var ErrExhausted = errors.New("no free destination name")

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
	dotRuns     = regexp.MustCompile(`\.{2,}`)
)

// Sanitize reduces a client-supplied filename to a single safe path
// component. Applying it twice gives the same result as applying it once.
func Sanitize(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = dotRuns.ReplaceAllString(name, ".")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	if name == "" || name == "." {
		return Fallback
	}
	return name
}

// CreateExclusive creates name inside dir without ever replacing an existing
// file. On collision it tries name.1 through name.9 and then a random
// name.<uuid>. The returned path is the one actually created.
func CreateExclusive(dir, name string) (*os.File, string, error) {
	base := filepath.Join(dir, name)
	candidates := make([]string, 0, MaxSuffix+1)
	candidates = append(candidates, base)
	for i := 1; i <= MaxSuffix; i++ {
		candidates = append(candidates, base+"."+strconv.Itoa(i))
	}

	for _, path := range candidates {
		f, err := openExclusive(path)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
	}

	path := base + "." + uuid.NewString()
	f, err := openExclusive(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w for %s in %s: %v", ErrExhausted, name, dir, err)
	}
	return f, path, nil
}

func openExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
}
