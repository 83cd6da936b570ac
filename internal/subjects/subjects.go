// Package subjects reads the list of commit subjects a run starts from.
package subjects

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"fixhunt/internal/errors"
)

// StdinName is the path that selects standard input
const StdinName = "-"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Load reads subjects from path, or from stdin when path is "-".
// Gzip and zstd input is detected from its magic bytes.
func Load(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader
	if path == StdinName {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.New(errors.InputError, "cannot open subjects file", err,
				errors.GetSuggestedFixes(errors.InputError)).
				WithDetails(map[string]interface{}{"path": path})
		}
		defer f.Close()
		r = f
	}

	subjects, err := Read(r)
	if err != nil {
		return nil, errors.New(errors.InputError, "cannot read subjects", err, nil).
			WithDetails(map[string]interface{}{"path": path})
	}
	if len(subjects) == 0 {
		return nil, errors.New(errors.InputError, "subject list is empty", nil,
			errors.GetSuggestedFixes(errors.InputError)).
			WithDetails(map[string]interface{}{"path": path})
	}
	return subjects, nil
}

// Read returns the non-blank lines of r with surrounding whitespace and
// trailing carriage returns removed, in input order
func Read(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}

	var src io.Reader = br
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	var subjects []string
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if line == "" {
			continue
		}
		subjects = append(subjects, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return subjects, nil
}
