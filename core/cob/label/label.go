// Package label defines labels: validated names that tag issues and
// patches, and the label object that gives a name a color and description.
package label

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/gobwas/glob"
)

var (
	ErrInvalidName    = errors.New("invalid label name")
	ErrInvalidColor   = errors.New("invalid color")
	ErrInvalidPattern = errors.New("invalid label pattern")
)

// =============================================================================
// Name
// =============================================================================

// Name is a label name: non-empty and free of whitespace.
type Name string

// ParseName validates s as a label name.
func ParseName(s string) (Name, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidName, s)
	}
	return Name(s), nil
}

func (n Name) String() string {
	return string(n)
}

// =============================================================================
// Color
// =============================================================================

// Color is a 24-bit RGB value written as #rrggbb.
type Color struct {
	R, G, B uint8
}

// ParseColor accepts #rrggbb in either case.
func ParseColor(s string) (Color, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || len(hex) != 6 {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	var rgb [3]uint8
	for i := range rgb {
		hi, ok1 := hexDigit(hex[2*i])
		lo, ok2 := hexDigit(hex[2*i+1])
		if !ok1 || !ok2 {
			return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
		}
		rgb[i] = hi<<4 | lo
	}
	return Color{R: rgb[0], G: rgb[1], B: rgb[2]}, nil
}

func hexDigit(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// =============================================================================
// Label
// =============================================================================

// Label is the label object: a name with presentation details.
type Label struct {
	Name        Name   `json:"name"`
	Description string `json:"description"`
	Color       Color  `json:"color"`
}

// New validates name and builds a label.
func New(name, description string, color Color) (Label, error) {
	n, err := ParseName(name)
	if err != nil {
		return Label{}, err
	}
	return Label{Name: n, Description: description, Color: color}, nil
}

// =============================================================================
// Filters
// =============================================================================

// Filter matches label names against a set of glob patterns. A name matches
// when any pattern does; an empty filter matches everything.
type Filter struct {
	matchers []glob.Glob
}

// NewFilter compiles patterns such as "bug" or "area/*".
func NewFilter(patterns ...string) (*Filter, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		matchers = append(matchers, g)
	}
	return &Filter{matchers: matchers}, nil
}

// Match reports whether name matches the filter.
func (f *Filter) Match(name Name) bool {
	if len(f.matchers) == 0 {
		return true
	}
	for _, g := range f.matchers {
		if g.Match(string(name)) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of names matches. An empty filter matches
// even an empty set.
func (f *Filter) MatchAny(names map[Name]struct{}) bool {
	if len(f.matchers) == 0 {
		return true
	}
	for name := range names {
		if f.Match(name) {
			return true
		}
	}
	return false
}
