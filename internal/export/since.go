package export

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ParseSince resolves a natural-language phrase like "yesterday" or
// "2 weeks ago" into an absolute cutoff time relative to now.
func ParseSince(phrase string, now time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	res, err := w.Parse(phrase, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time phrase %q: %w", phrase, err)
	}
	if res == nil {
		return time.Time{}, fmt.Errorf("unrecognized time phrase %q", phrase)
	}
	return res.Time, nil
}
