package chart

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// SnapshotFile is the object name of every weekly snapshot.
const SnapshotFile = "result.csv"

// WeeklyKey returns the blob key of one chart week: {chart}/{YYYY}/{MM}/{DD}/result.csv.
func WeeklyKey(chartID string, date time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s", chartID, date.Year(), int(date.Month()), date.Day(), SnapshotFile)
}

// HistoricalKey returns {chart}/global/{name}.csv. An empty name falls back to the chart id.
func HistoricalKey(chartID, name string) string {
	if strings.TrimSpace(name) == "" {
		name = chartID
	}
	return fmt.Sprintf("%s/global/%s.csv", chartID, name)
}

// LocalName is the file name a blob is materialized under.
func LocalName(key string) string {
	return path.Base(key)
}
