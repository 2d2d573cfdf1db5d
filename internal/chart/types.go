package chart

import (
	"net/http"
	"time"
)

// DateLayout is the ISO calendar date format used in URLs, keys and rows.
const DateLayout = "2006-01-02"

const (
	// ImagePlaceholder replaces missing or lazy-load fallback artwork URLs.
	ImagePlaceholder = "#"
	// LazyLoadFallbackURL is the stand-in image the chart site serves before lazy loading.
	LazyLoadFallbackURL = "https://www.billboard.com/wp-content/themes/vip/pmc-billboard-2021/assets/public/lazyload-fallback.gif"
	// Columns is the fixed width of every dataset row.
	Columns = 8
)

// Header is the first row of every weekly and historical dataset.
var Header = []string{
	"Date",
	"Song",
	"Artist",
	"Rank",
	"Last Week",
	"Peak Position",
	"Weeks in Charts",
	"Image URL",
}

// Entry is one normalized chart row. Values keep the text the page displays,
// so a new entry carries the site's "-" in LastWeek.
type Entry struct {
	Date         time.Time
	Song         string
	Artist       string
	Rank         string
	LastWeek     string
	PeakPosition string
	WeeksOnChart string
	ImageURL     string
}

// Row returns the entry as eight fields in Header order.
func (e Entry) Row() []string {
	return []string{
		FormatDate(e.Date),
		e.Song,
		e.Artist,
		e.Rank,
		e.LastWeek,
		e.PeakPosition,
		e.WeeksOnChart,
		e.ImageURL,
	}
}

// Snapshot is the extracted content of one chart for one week.
type Snapshot struct {
	ChartID string
	Date    time.Time
	Entries []Entry
}

// Rows returns the header followed by one row per entry.
func (s Snapshot) Rows() [][]string {
	rows := make([][]string, 0, len(s.Entries)+1)
	rows = append(rows, append([]string(nil), Header...))
	for _, e := range s.Entries {
		rows = append(rows, e.Row())
	}
	return rows
}

// Dataset is the accumulated history of one chart. Rows[0] is the header.
type Dataset struct {
	Key  string
	Rows [][]string
}

// NewDataset returns a dataset holding only the header row.
func NewDataset(key string) Dataset {
	return Dataset{
		Key:  key,
		Rows: [][]string{append([]string(nil), Header...)},
	}
}

// DataRows reports the number of rows below the header.
func (d Dataset) DataRows() int {
	if len(d.Rows) == 0 {
		return 0
	}
	return len(d.Rows) - 1
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Ingestion records one successful merge of a weekly snapshot.
type Ingestion struct {
	RunID      string
	ChartID    string
	Date       time.Time
	WeeklyKey  string
	Rows       int
	Checksum   string
	IngestedAt time.Time
}

// FetchRequest describes a page retrieval.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse carries the raw page body and response metadata.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	FromCache    bool
}
