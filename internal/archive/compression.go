package archive

import (
	"fmt"
	"strings"
)

// Compression selects the container and compressor used for a directory.
type Compression int

const (
	// None is a plain tar stream.
	None Compression = iota
	Gzip
	Bzip2
	// Zip uses the zip container with per-entry deflate.
	Zip
)

// ParseCompression accepts the names used on the command line and in config
// files.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "tar", "off":
		return None, nil
	case "gzip", "gz", "tgz", "":
		return Gzip, nil
	case "bzip2", "bz2", "tbz":
		return Bzip2, nil
	case "zip":
		return Zip, nil
	}
	return None, fmt.Errorf("unknown compression %q (want none, gzip, bzip2 or zip)", name)
}

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case Zip:
		return "zip"
	}
	return fmt.Sprintf("compression(%d)", int(c))
}

// Extension is appended to the directory name in the canonical path and in
// the attachment filename.
func (c Compression) Extension() string {
	switch c {
	case Gzip:
		return ".tar.gz"
	case Bzip2:
		return ".tar.bz2"
	case Zip:
		return ".zip"
	}
	return ".tar"
}

func (c Compression) ContentType() string {
	switch c {
	case Gzip:
		return "application/gzip"
	case Bzip2:
		return "application/x-bzip2"
	case Zip:
		return "application/zip"
	}
	return "application/x-tar"
}
