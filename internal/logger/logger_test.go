package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/c4xtender/internal/envelope"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecordWritesRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir}, "controller")
	defer l.Close()

	l.Record("in", envelope.New("1A2B", "cget"))
	l.Record("out", envelope.New("1A2B", "cger").With("p", []string{"COM2"}))

	rows := readRows(t, l.Path())
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"controller", "in", "cget", "1A2B", `{"C4X":"1A2B","t":"cget"}`}, rows[1][1:])
	assert.Equal(t, `{"C4X":"1A2B","t":"cger","p":["COM2"]}`, rows[2][5])
}

func TestDisabledRecordsNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Path: dir}, "peer")
	l.Record("in", envelope.New("1", "inot"))
	assert.False(t, l.IsEnabled())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	l.SetEnabled(true)
	l.Record("in", envelope.New("1", "inot"))
	assert.NotEmpty(t, l.Path())
	l.SetEnabled(false)
}

func TestRotatesAfterMaxRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, MaxRows: 2}, "controller")
	defer l.Close()
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for i := 0; i < 5; i++ {
		l.Record("out", envelope.New("", "crcv"))
	}
	matches, err := filepath.Glob(filepath.Join(dir, "c4x_controller_*.csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}
