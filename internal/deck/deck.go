// Package deck rewrites parameterized fields of simulation decks. A perturber
// never mutates the base deck: every control value produces a new file in the
// job's work directory, named deterministically from the value so repeated
// evaluations of the same value map to the same path.
package deck

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Namer optionally rewrites generated deck filenames (e.g. iteration tagging).
type Namer func(name string) string

// Opts carries the pin context a perturber needs to decide which stimulus
// parameter a control value lands on.
type Opts struct {
	WorkDir    string
	Pin        string
	Related    string
	TimingType string
	Namer      Namer
}

// Perturber injects a time shift into the numeric offset following a
// half_tran_tend+<PIN>_tN expression of a constraint deck.
type Perturber struct {
	basePath   string
	base       string
	workDir    string
	pin        string
	related    string
	timingType string
	namer      Namer
}

// NewPerturber reads the base deck once and returns a perturber bound to it.
func NewPerturber(deckPath string, opts Opts) (*Perturber, error) {
	content, err := os.ReadFile(deckPath)
	if err != nil {
		return nil, fmt.Errorf("reading deck %s: %w", deckPath, err)
	}
	namer := opts.Namer
	if namer == nil {
		namer = func(name string) string { return name }
	}
	return &Perturber{
		basePath:   deckPath,
		base:       string(content),
		workDir:    opts.WorkDir,
		pin:        opts.Pin,
		related:    opts.Related,
		timingType: strings.ToLower(opts.TimingType),
		namer:      namer,
	}, nil
}

// WriteShifted writes a deck encoding the requested signed shift and returns
// its path. A shift of (effectively) zero reproduces the base content.
func (p *Perturber) WriteShifted(shift float64) (string, error) {
	content := p.base
	if math.Abs(shift) >= 1e-18 {
		content = p.injectTimeShift(shift)
	}
	name := p.namer(fmt.Sprintf("%s_shift_%.3e.sp", stem(p.basePath), shift))
	path := filepath.Join(p.workDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing shifted deck: %w", err)
	}
	return path, nil
}

// Shiftable reports whether the base deck carries a stimulus expression the
// perturber can rewrite for the arc's target pin. A deck without one would
// accept any WriteShifted call as a no-op, which silently mislabels the shift
// every sample was measured at.
func (p *Perturber) Shiftable() bool {
	target := p.targetPin()
	if target == "" {
		return false
	}
	pattern := regexp.MustCompile(`half_tran_tend\+` + regexp.QuoteMeta(target) + `_t\d+`)
	return pattern.MatchString(p.base)
}

// Supply returns the supply voltage encoded in the base deck, or fallback
// when the deck carries none (or a non-positive one).
func (p *Perturber) Supply(fallback float64) float64 {
	if v, ok := ExtractSupply(p.base); ok {
		return v
	}
	if math.IsInf(fallback, 0) || math.IsNaN(fallback) || fallback <= 0 {
		return 1.0
	}
	return fallback
}

func (p *Perturber) injectTimeShift(shift float64) string {
	target := p.targetPin()
	if target == "" {
		return p.base
	}
	pin, actual := p.resolveShiftPin(target, shift)
	if pin == "" {
		return p.base
	}
	pattern := regexp.MustCompile(`(half_tran_tend\+` + regexp.QuoteMeta(pin) + `_t\d+)`)
	return pattern.ReplaceAllString(p.base, "${1}"+formatShift(actual))
}

// resolveShiftPin maps a requested signed shift onto a pin and a realized
// shift. The first half of the simulated window is a deterministic
// initialization phase and measurements trigger at its midpoint, so moving a
// pin earlier than the boundary would break the measurement triggers. A
// negative requested shift is therefore realized as an equal-magnitude
// positive shift on the opposite pin.
func (p *Perturber) resolveShiftPin(target string, shift float64) (string, float64) {
	if shift >= 0 {
		return target, shift
	}
	alternate := ""
	switch target {
	case p.pin:
		alternate = p.related
	case p.related:
		alternate = p.pin
	}
	if alternate == "" {
		return target, shift
	}
	return alternate, -shift
}

func (p *Perturber) targetPin() string {
	if strings.Contains(p.timingType, "hold") || strings.Contains(p.timingType, "removal") {
		return p.pin
	}
	return p.related
}

var supplyPattern = regexp.MustCompile(`(?m)^VVDD\s+\S+\s+0\s+([0-9.eE+-]+)\s*$`)

// ExtractSupply pulls the VDD source value out of deck content.
func ExtractSupply(content string) (float64, bool) {
	match := supplyPattern.FindStringSubmatch(content)
	if match == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatShift(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.12g", v)
	}
	return fmt.Sprintf("%.12g", v)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
