package deck

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// WidthPerturber rewrites the pulse start/end parameter assignments of a
// minimum-pulse-width deck. The pulse is encoded as two .param lines,
// <pin>_t2 (falling edge) and <pin>_t3 (end of window); their delta is kept
// constant while t2 moves.
type WidthPerturber struct {
	basePath  string
	base      string
	workDir   string
	pin       string
	baseWidth float64
	tailDelta float64
	namer     Namer
}

// NewWidthPerturber reads the base deck and extracts the pulse parameters.
// It fails when the pin is unknown or the deck lacks the parameter lines.
func NewWidthPerturber(deckPath string, opts Opts) (*WidthPerturber, error) {
	if opts.Pin == "" {
		return nil, fmt.Errorf("pulse-width deck %s: missing pin identifier", deckPath)
	}
	content, err := os.ReadFile(deckPath)
	if err != nil {
		return nil, fmt.Errorf("reading deck %s: %w", deckPath, err)
	}
	namer := opts.Namer
	if namer == nil {
		namer = func(name string) string { return name }
	}
	w := &WidthPerturber{
		basePath: deckPath,
		base:     string(content),
		workDir:  opts.WorkDir,
		pin:      opts.Pin,
		namer:    namer,
	}
	t2, err := w.extractParam(2)
	if err != nil {
		return nil, err
	}
	t3, err := w.extractParam(3)
	if err != nil {
		return nil, err
	}
	w.baseWidth = t2
	w.tailDelta = t3 - t2
	return w, nil
}

// BaseWidth returns the pulse width encoded in the base deck, in seconds.
func (w *WidthPerturber) BaseWidth() float64 { return w.baseWidth }

// WriteWidth writes a deck with the pulse width set to the given value (in
// seconds, clamped at zero) and returns its path.
func (w *WidthPerturber) WriteWidth(width float64) (string, error) {
	width = math.Max(width, 0)
	content := w.replaceParam(2, width, w.base)
	content = w.replaceParam(3, width+w.tailDelta, content)

	name := w.namer(fmt.Sprintf("%s_%.3e.sp", stem(w.basePath), width))
	path := filepath.Join(w.workDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing width deck: %w", err)
	}
	return path, nil
}

func (w *WidthPerturber) paramPattern(index int) *regexp.Regexp {
	return regexp.MustCompile(`(\.param ` + regexp.QuoteMeta(w.pin) + `_t` + strconv.Itoa(index) + `=)([^ \n]+)`)
}

func (w *WidthPerturber) extractParam(index int) (float64, error) {
	match := w.paramPattern(index).FindStringSubmatch(w.base)
	if match == nil {
		return 0, fmt.Errorf("deck %s: parameter %s_t%d not found", w.basePath, w.pin, index)
	}
	v, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		return 0, fmt.Errorf("deck %s: parameter %s_t%d: %w", w.basePath, w.pin, index, err)
	}
	return v, nil
}

func (w *WidthPerturber) replaceParam(index int, value float64, content string) string {
	replaced := false
	return w.paramPattern(index).ReplaceAllStringFunc(content, func(match string) string {
		if replaced {
			return match
		}
		replaced = true
		sub := w.paramPattern(index).FindStringSubmatch(match)
		return sub[1] + fmt.Sprintf("%.12g", value)
	})
}
