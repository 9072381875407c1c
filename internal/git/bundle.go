package git

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	bundleV2Signature = "# v2 git bundle"
	bundleV3Signature = "# v3 git bundle"
)

// ErrInvalidBundle is returned when a file does not start with a bundle header.
var ErrInvalidBundle = errors.New("invalid bundle header")

// BundleHeader is the parsed text header of a bundle file.
type BundleHeader struct {
	Version       int
	Refs          []string
	Prerequisites []string
}

// WriteEmptyBundle writes a bundle that carries no refs and no pack data.
// git refuses to create one itself, so it stands in for repositories
// without any commits.
func WriteEmptyBundle(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(bundleV2Signature + "\n\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// ReadBundleHeader parses the header of the bundle at path.
func ReadBundleHeader(path string) (*BundleHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)

	sig, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	h := &BundleHeader{}

	switch strings.TrimSuffix(sig, "\n") {
	case bundleV2Signature:
		h.Version = 2
	case bundleV3Signature:
		h.Version = 3
	default:
		return nil, ErrInvalidBundle
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: header not terminated", ErrInvalidBundle)
		}

		line = strings.TrimSuffix(line, "\n")

		switch {
		case line == "":
			return h, nil
		case strings.HasPrefix(line, "@"):
			// v3 capability
		case strings.HasPrefix(line, "-"):
			h.Prerequisites = append(h.Prerequisites, line[1:])
		default:
			h.Refs = append(h.Refs, line)
		}
	}
}

// VerifyEmptyBundle checks that path is a well-formed bundle without refs.
func VerifyEmptyBundle(path string) error {
	h, err := ReadBundleHeader(path)
	if err != nil {
		return err
	}

	if len(h.Refs) != 0 || len(h.Prerequisites) != 0 {
		return fmt.Errorf("%w: expected no refs, found %d", ErrInvalidBundle, len(h.Refs))
	}

	return nil
}
