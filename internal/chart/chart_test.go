package chart

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeeklyKey(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "hot-100/2024/03/09/result.csv", WeeklyKey("hot-100", date))
}

func TestHistoricalKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hot-100/global/hot100.csv", HistoricalKey("hot-100", "hot100"))
	require.Equal(t, "radio-songs/global/radio-songs.csv", HistoricalKey("radio-songs", ""))
	require.Equal(t, "hot100.csv", LocalName("hot-100/global/hot100.csv"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		ChartID: "hot-100",
		Date:    time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
		Entries: []Entry{
			{
				Date:         time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
				Song:         "Lovin On Me",
				Artist:       "Jack Harlow",
				Rank:         "1",
				LastWeek:     "2",
				PeakPosition: "1",
				WeeksOnChart: "8",
				ImageURL:     ImagePlaceholder,
			},
		},
	}
	data := Encode(snap.Rows())
	require.Equal(t,
		"Date,Song,Artist,Rank,Last Week,Peak Position,Weeks in Charts,Image URL\n"+
			"2024-01-06,Lovin On Me,Jack Harlow,1,2,1,8,#",
		string(data))
	require.Equal(t, snap.Rows(), Decode(data))
}

func TestDecodeSkipsBlankLinesAndCRLF(t *testing.T) {
	t.Parallel()

	rows := Decode([]byte("a,b\r\n\r\nc,d\n"))
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, rows)
	require.Empty(t, Decode(nil))
}

func TestSplitHeader(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		rows := [][]string{Header, {"x"}}
		data, err := SplitHeader(rows)
		require.NoError(t, err)
		assert.Len(t, data, 1)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := SplitHeader(nil)
		require.ErrorIs(t, err, ErrNoHeader)
	})
	t.Run("wrong width", func(t *testing.T) {
		_, err := SplitHeader([][]string{{"Date", "Song"}})
		require.Error(t, err)
	})
	t.Run("wrong name", func(t *testing.T) {
		bad := append([]string(nil), Header...)
		bad[3] = "Position"
		_, err := SplitHeader([][]string{bad})
		require.ErrorContains(t, err, "Position")
	})
	t.Run("byte order mark", func(t *testing.T) {
		bom := append([]string(nil), Header...)
		bom[0] = "\ufeffDate"
		_, err := SplitHeader([][]string{bom})
		require.NoError(t, err)
	})
}

func TestCheckRow(t *testing.T) {
	t.Parallel()

	good := []string{"2025-06-25", "Song", "Artist", "1", "-", "1", "1", "#"}
	require.NoError(t, CheckRow(good))

	tests := map[string]struct {
		mutate func(row []string) []string
		want   string
	}{
		"short row": {
			mutate: func(row []string) []string { return row[:7] },
			want:   "7 columns",
		},
		"comma in image url": {
			mutate: func(row []string) []string { row[7] = "https://cdn.example/a.jpg?resize=180,180"; return row },
			want:   "Image URL",
		},
		"line break in rank": {
			mutate: func(row []string) []string { row[3] = "1\n2"; return row },
			want:   "Rank",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			row := tc.mutate(append([]string(nil), good...))
			require.ErrorContains(t, CheckRow(row), tc.want)
		})
	}
}

func TestNewDataset(t *testing.T) {
	t.Parallel()

	ds := NewDataset("hot-100/global/hot100.csv")
	require.Equal(t, 0, ds.DataRows())
	require.Equal(t, Header, ds.Rows[0])

	ds.Rows[0][0] = "mutated"
	require.Equal(t, "Date", Header[0])
}

func TestFetchErrorTimeout(t *testing.T) {
	t.Parallel()

	err := &FetchError{ChartID: "hot-100", Err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)}
	require.True(t, err.Timeout())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	status := &FetchError{ChartID: "hot-100", StatusCode: 503}
	require.False(t, status.Timeout())
	require.Contains(t, status.Error(), "status 503")
}

func TestIsCredentials(t *testing.T) {
	t.Parallel()

	base := &CredentialsError{Backend: "minio", Err: errors.New("access denied")}
	merge := &MergeError{ChartID: "hot-100", Key: "k", Op: "read", Err: base}
	require.True(t, IsCredentials(fmt.Errorf("unit: %w", merge)))
	require.False(t, IsCredentials(errors.New("boom")))
}
