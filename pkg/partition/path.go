// Package partition resolves Bronze input partitions and Silver output
// paths from configured key names. No folder literal is hardcoded here;
// every segment name comes from the dataset descriptor's path keys.
package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/tonysebion/bronze-foundry/pkg/config"
)

const dateLayout = "2006-01-02"

// BronzeRef locates one raw Bronze partition.
type BronzeRef struct {
	System  string
	Table   string
	Pattern string
	Date    time.Time
	Keys    config.PathKeys
}

// RelativePath returns system=…/table=…/pattern=…/dt=… under the Bronze root.
func (b BronzeRef) RelativePath() string {
	parts := []string{
		fmt.Sprintf("%s=%s", b.Keys.SystemKey, b.System),
		fmt.Sprintf("%s=%s", b.Keys.BronzeEntity, b.Table),
	}
	if b.Pattern != "" {
		parts = append(parts, fmt.Sprintf("%s=%s", b.Keys.BronzePattern, b.Pattern))
	}
	parts = append(parts, fmt.Sprintf("%s=%s", b.Keys.DateKey, b.Date.Format(dateLayout)))
	return strings.Join(parts, "/")
}

// SilverRef locates one curated Silver load partition.
type SilverRef struct {
	Domain         string
	Entity         string
	Version        int
	Pattern        string
	IncludePattern bool
	LoadDate       time.Time
	Keys           config.PathKeys
}

// DatasetPath returns domain=…/entity=…/v{N}/[pattern=…], the prefix all
// of the dataset's load partitions share.
func (s SilverRef) DatasetPath() string {
	parts := []string{
		fmt.Sprintf("%s=%s", s.Keys.DomainKey, s.Domain),
		fmt.Sprintf("%s=%s", s.Keys.EntityKey, s.Entity),
		fmt.Sprintf("%s%d", s.Keys.VersionKey, s.Version),
	}
	if s.IncludePattern && s.Pattern != "" {
		parts = append(parts, fmt.Sprintf("%s=%s", s.Keys.PatternKey, s.Pattern))
	}
	return strings.Join(parts, "/")
}

// BasePath returns domain=…/entity=…/v{N}/[pattern=…]/load_date=….
// Record-time segments, when a model allows them, are appended per row
// below this prefix by the writer.
func (s SilverRef) BasePath() string {
	return s.DatasetPath() + "/" + fmt.Sprintf("%s=%s", s.Keys.LoadDateKey, s.LoadDate.Format(dateLayout))
}
