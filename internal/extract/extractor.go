// Package extract turns a chart page into normalized chart entries.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

const (
	rowSelector   = ".o-chart-results-list-row-container"
	labelSelector = ".c-label"
	imageSelector = ".c-lazy-image__img"
	imageAttr     = "data-lazy-src"

	// Labels before this index are decorative; the next three carry
	// last week, peak position and weeks on chart.
	firstStatLabel = 5
	statLabels     = 3
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Config controls extraction behavior.
type Config struct {
	// Strict fails the whole page on the first malformed row instead of skipping it.
	Strict bool
}

// Result holds the entries extracted from a page and the rows that were skipped.
type Result struct {
	Entries []chart.Entry
	Skipped []chart.ExtractionError
}

// Extractor parses chart pages. It performs no I/O.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract parses body and returns one entry per well-formed row container in
// document order, each stamped with date.
func (e *Extractor) Extract(body []byte, date time.Time) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse chart page: %w", err)
	}

	var (
		result Result
		failed error
	)
	doc.Find(rowSelector).EachWithBreak(func(i int, row *goquery.Selection) bool {
		entry, extractErr := parseRow(i, row, date)
		if extractErr != nil {
			if e.cfg.Strict {
				failed = *extractErr
				return false
			}
			e.logger.Warn("Skipping malformed chart row",
				zap.String("date", chart.FormatDate(date)),
				zap.Int("index", i),
				zap.String("reason", extractErr.Reason),
			)
			result.Skipped = append(result.Skipped, *extractErr)
			return true
		}
		result.Entries = append(result.Entries, entry)
		return true
	})
	if failed != nil {
		return Result{}, fmt.Errorf("extract chart rows: %w", failed)
	}
	if len(result.Entries) == 0 && len(result.Skipped) == 0 {
		e.logger.Info("No chart rows found", zap.String("date", chart.FormatDate(date)))
	}
	return result, nil
}

func parseRow(index int, row *goquery.Selection, date time.Time) (chart.Entry, *chart.ExtractionError) {
	malformed := func(format string, args ...any) *chart.ExtractionError {
		return &chart.ExtractionError{Index: index, Reason: fmt.Sprintf(format, args...)}
	}

	heading := row.Find("h3").First()
	if heading.Length() == 0 {
		return chart.Entry{}, malformed("missing title heading")
	}
	artistNode := nextSpan(heading.Get(0), row.Get(0))
	if artistNode == nil {
		return chart.Entry{}, malformed("missing artist after title")
	}
	rank := row.Find("span").First()
	if rank.Length() == 0 {
		return chart.Entry{}, malformed("missing rank")
	}
	labels := row.Find(labelSelector)
	if labels.Length() < firstStatLabel+statLabels {
		return chart.Entry{}, malformed("expected %d stat labels, found %d",
			statLabels, max(labels.Length()-firstStatLabel, 0))
	}
	stats := make([]string, 0, statLabels)
	labels.Slice(firstStatLabel, firstStatLabel+statLabels).Each(func(_ int, s *goquery.Selection) {
		stats = append(stats, cleanText(s.Text()))
	})
	rankText := cleanText(rank.Text())
	fields := []struct{ name, value string }{
		{"rank", rankText},
		{"last week", stats[0]},
		{"peak position", stats[1]},
		{"weeks on chart", stats[2]},
	}
	for _, f := range fields {
		if strings.Contains(f.value, ",") {
			return chart.Entry{}, malformed("%s %q contains a comma", f.name, f.value)
		}
	}

	return chart.Entry{
		Date:         date,
		Song:         strings.ReplaceAll(cleanText(heading.Text()), ",", ";"),
		Artist:       strings.ReplaceAll(cleanText(row.FindNodes(artistNode).Text()), ",", "|"),
		Rank:         rankText,
		LastWeek:     stats[0],
		PeakPosition: stats[1],
		WeeksOnChart: stats[2],
		ImageURL:     imageURL(row),
	}, nil
}

func imageURL(row *goquery.Selection) string {
	src, ok := row.Find(imageSelector).First().Attr(imageAttr)
	src = strings.TrimSpace(src)
	if !ok || src == "" || src == chart.LazyLoadFallbackURL {
		return chart.ImagePlaceholder
	}
	// Resize parameters such as ?resize=180,180 would otherwise split the row.
	return strings.ReplaceAll(src, ",", "%2C")
}

// cleanText trims the value and flattens line breaks so a value never splits a CSV row.
func cleanText(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}

// nextSpan walks forward in document order from start, including start's
// descendants, and returns the first span inside root.
func nextSpan(start, root *html.Node) *html.Node {
	for n := following(start, root); n != nil; n = following(n, root) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Span {
			return n
		}
	}
	return nil
}

func following(n, root *html.Node) *html.Node {
	if n.FirstChild != nil {
		return n.FirstChild
	}
	for n != nil && n != root {
		if n.NextSibling != nil {
			return n.NextSibling
		}
		n = n.Parent
	}
	return nil
}
