package correlation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteResolvesExactlyOnce(t *testing.T) {
	tbl := NewTable()
	p, err := tbl.Register("AA11", nil)
	require.NoError(t, err)

	assert.True(t, tbl.Resolve("AA11", []string{"COM2"}))
	assert.False(t, tbl.Resolve("AA11", []string{"COM3"}))
	assert.False(t, tbl.Reject("AA11", "late"))

	r := <-p.Done()
	require.NoError(t, r.Err)
	assert.Equal(t, []string{"COM2"}, r.Value)
	assert.Equal(t, 0, tbl.Len())
}

func TestCompleteUnknownIDIsNoop(t *testing.T) {
	tbl := NewTable()
	assert.False(t, tbl.Complete("never", Result{Value: 1}))
	_, ok := tbl.Take("never")
	assert.False(t, ok)
}

func TestLookupLeavesEntryPending(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Register("AA11", "ctx")
	require.NoError(t, err)

	p, ok := tbl.Lookup("AA11")
	require.True(t, ok)
	assert.Equal(t, "ctx", p.Context)
	assert.Equal(t, 1, tbl.Len())

	_, ok = tbl.Lookup("never")
	assert.False(t, ok)
}

func TestRejectCarriesRemoteError(t *testing.T) {
	tbl := NewTable()
	p, err := tbl.Register("7F", nil)
	require.NoError(t, err)
	tbl.Reject("7F", "SerialPort 2 not found.")

	_, err = tbl.Wait(context.Background(), p)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "SerialPort 2 not found.", remote.Message)
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Register("X", nil)
	require.NoError(t, err)
	_, err = tbl.Register("X", nil)
	assert.True(t, errors.Is(err, ErrDuplicateID))
}

func TestTakeKeepsContext(t *testing.T) {
	tbl := NewTable()
	type handle struct{ id int }
	h := &handle{id: 2}
	_, err := tbl.Register("B", h)
	require.NoError(t, err)

	p, ok := tbl.Take("B")
	require.True(t, ok)
	assert.Same(t, h, p.Context)
	p.Resolve(p.Context)
	r := <-p.Done()
	assert.Same(t, h, r.Value)
}

func TestOutOfOrderCompletion(t *testing.T) {
	tbl := NewTable()
	a, _ := tbl.Register("A", nil)
	b, _ := tbl.Register("B", nil)
	tbl.Resolve("B", "b")
	tbl.Resolve("A", "a")
	assert.Equal(t, "a", (<-a.Done()).Value)
	assert.Equal(t, "b", (<-b.Done()).Value)
}

func TestWaitTimeoutRemovesEntry(t *testing.T) {
	tbl := NewTable()
	p, err := tbl.Open(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tbl.Wait(ctx, p)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.Resolve(p.ID, "late"))
}

func TestCloseFailsPending(t *testing.T) {
	tbl := NewTable()
	p, _ := tbl.Open(nil)
	tbl.Close()

	_, err := tbl.Wait(context.Background(), p)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = tbl.Open(nil)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestOnChangeTracksCount(t *testing.T) {
	tbl := NewTable()
	var counts []int
	tbl.OnChange = func(n int) { counts = append(counts, n) }
	tbl.Register("1", nil)
	tbl.Register("2", nil)
	tbl.Resolve("1", nil)
	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestConcurrentRegisterAndComplete(t *testing.T) {
	tbl := NewTable()
	const n = 200
	var wg sync.WaitGroup
	results := make([]any, n)
	for i := 0; i < n; i++ {
		p, err := tbl.Register(fmt.Sprintf("id-%d", i), nil)
		require.NoError(t, err)
		wg.Add(2)
		go func(i int, p *Pending) {
			defer wg.Done()
			v, err := tbl.Wait(context.Background(), p)
			if err == nil {
				results[i] = v
			}
		}(i, p)
		go func(i int) {
			defer wg.Done()
			tbl.Resolve(fmt.Sprintf("id-%d", i), i)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		assert.Equal(t, i, results[i])
	}
	assert.Equal(t, 0, tbl.Len())
}

func TestNewIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^[0-9A-F]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.Regexp(t, re, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 990)
}
