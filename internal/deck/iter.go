package deck

import (
	"fmt"
	"regexp"
)

var iterPrefix = regexp.MustCompile(`(?i)^iter\d{4}_`)

// Tagger hands out monotonically increasing iterNNNN_ prefixes so that decks
// written during repeated optimizer evaluations never collide in the work
// directory. Not safe for concurrent use; each optimizer run owns its own.
type Tagger struct {
	counter int
}

// Tag prefixes name with the next iteration tag unless it already carries one.
func (t *Tagger) Tag(name string) string {
	if iterPrefix.MatchString(name) {
		return name
	}
	t.counter++
	return fmt.Sprintf("iter%04d_%s", t.counter, name)
}

// StripTag removes a leading iteration tag from a name.
func StripTag(name string) string {
	return iterPrefix.ReplaceAllString(name, "")
}
