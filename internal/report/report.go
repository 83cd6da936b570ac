// Package report renders the event stream of a run for humans and tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"fixhunt/internal/fixchain"
)

// Supported formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// New returns a reporter writing format to w
func New(format string, w io.Writer, color bool) (fixchain.Reporter, error) {
	switch strings.ToLower(format) {
	case FormatText, "":
		return NewText(w, color), nil
	case FormatJSON:
		return NewJSON(w), nil
	case FormatYAML, "yml":
		return NewYAML(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// UseColor resolves a color mode (auto, always, never) for f. Auto
// enables color on terminals unless NO_COLOR is set.
func UseColor(mode string, f *os.File) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// JSONReporter writes one JSON object per event
type JSONReporter struct {
	enc *json.Encoder
}

// NewJSON creates a JSON lines reporter
func NewJSON(w io.Writer) *JSONReporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONReporter{enc: enc}
}

// Report implements fixchain.Reporter
func (r *JSONReporter) Report(ev fixchain.Event) error {
	return r.enc.Encode(ev)
}

// YAMLReporter writes one YAML document per event
type YAMLReporter struct {
	w io.Writer
}

// NewYAML creates a YAML stream reporter
func NewYAML(w io.Writer) *YAMLReporter {
	return &YAMLReporter{w: w}
}

// Report implements fixchain.Reporter
func (r *YAMLReporter) Report(ev fixchain.Event) error {
	data, err := yaml.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(r.w, "---\n"); err != nil {
		return err
	}
	_, err = r.w.Write(data)
	return err
}

// Multi fans every event out to all reporters in order, stopping at the
// first error
type Multi []fixchain.Reporter

// Report implements fixchain.Reporter
func (m Multi) Report(ev fixchain.Event) error {
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ev); err != nil {
			return err
		}
	}
	return nil
}
