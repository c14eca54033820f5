package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "OK\r\n" +
	"*e Message Send Text: \"eyJDNFgiOiIxQTJCIiwidCI6ImNnZXQifQ==\"\r\n" +
	"*s Peripherals HeartBeat: 120\r\n" +
	"*e Message Send Text: no quotes here\r\n" +
	"*e Message Send Text: \"only one quote\r\n" +
	"** end\n" +
	"*e Message Send Text: \"second\"\n"

func TestFeedExtractsQuotedCandidates(t *testing.T) {
	e := New(Config{})
	got := e.FeedString(sampleStream)
	assert.Equal(t, []string{"eyJDNFgiOiIxQTJCIiwidCI6ImNnZXQifQ==", "second"}, got)

	st := e.Stats()
	assert.EqualValues(t, 7, st.Lines)
	assert.EqualValues(t, 2, st.Candidates)
	assert.EqualValues(t, 5, st.Discarded)
	assert.Equal(t, 0, st.Buffered)
}

func TestFeedUsesFirstAndLastQuote(t *testing.T) {
	e := New(Config{})
	got := e.FeedString("*e Message Send Text: \"a\"b\"c\"\n")
	assert.Equal(t, []string{`a"b"c`}, got)
}

func TestFeedHoldsUnterminatedSuffix(t *testing.T) {
	e := New(Config{})
	assert.Empty(t, e.FeedString("*e Message Send Text: \"abc"))
	assert.Equal(t, 26, e.Stats().Buffered)
	assert.Equal(t, []string{"abcdef"}, e.FeedString("def\"\r\n"))
}

func TestFeedIsChunkBoundaryIndependent(t *testing.T) {
	whole := New(Config{}).FeedString(sampleStream)
	require.Len(t, whole, 2)

	for split := 0; split <= len(sampleStream); split++ {
		e := New(Config{})
		var got []string
		got = append(got, e.FeedString(sampleStream[:split])...)
		got = append(got, e.FeedString(sampleStream[split:])...)
		require.Equal(t, whole, got, "split at %d", split)
	}

	e := New(Config{})
	var got []string
	for i := 0; i < len(sampleStream); i++ {
		got = append(got, e.FeedString(sampleStream[i:i+1])...)
	}
	assert.Equal(t, whole, got)
}

func TestFeedBadLineDoesNotCorruptNextLine(t *testing.T) {
	e := New(Config{})
	got := e.FeedString("*e Message Send Text: \"broken\n*e Message Send Text: \"ok\"\n")
	assert.Equal(t, []string{"ok"}, got)
}

func TestFeedReportsDiscardReasons(t *testing.T) {
	var reasons []DiscardReason
	e := New(Config{OnDiscard: func(r DiscardReason, _ string) { reasons = append(reasons, r) }})
	e.FeedString("hello\n*e Message Send Text: x\n")
	assert.Equal(t, []DiscardReason{DiscardNoMarker, DiscardNoQuotes}, reasons)
}

func TestFeedOverflowDropsLineAndRecovers(t *testing.T) {
	var reasons []DiscardReason
	e := New(Config{
		MaxLineLength: 32,
		OnDiscard:     func(r DiscardReason, _ string) { reasons = append(reasons, r) },
	})

	long := "*e Message Send Text: \"" + strings.Repeat("A", 64) + "\""
	assert.Empty(t, e.FeedString(long[:20]))
	assert.Empty(t, e.FeedString(long[20:]))
	assert.Equal(t, 0, e.Stats().Buffered)

	// tail of the overflowed line must not surface as its own line
	got := e.FeedString("\n*e Message Send Text: \"ok\"\n")
	assert.Equal(t, []string{"ok"}, got)
	assert.Equal(t, []DiscardReason{DiscardOverflow}, reasons)
	assert.EqualValues(t, 1, e.Stats().Overflows)
}

func TestFeedFoldCaseMarker(t *testing.T) {
	e := New(Config{Marker: "xcommand message send text:", FoldCase: true})
	got := e.FeedString("xCommand Message Send Text:\"abc\"\r\n\r\nxFeedback register /event/message\r\n")
	assert.Equal(t, []string{"abc"}, got)

	strict := New(Config{Marker: "xcommand message send text:"})
	assert.Empty(t, strict.FeedString("xCommand Message Send Text:\"abc\"\n"))
}

func TestReset(t *testing.T) {
	e := New(Config{})
	e.FeedString("*e Message Send Text: \"part")
	e.Reset()
	assert.Empty(t, e.FeedString("ial\"\n"))
}
