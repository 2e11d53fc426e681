package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestChunkRanges(t *testing.T) {
	tests := []struct {
		name     string
		from, to uint64
		size     uint64
		want     []Range
	}{
		{"empty when from after to", 10, 9, 5, nil},
		{"single block", 7, 7, 5, []Range{{7, 7}}},
		{"range equals chunk", 1, 5, 5, []Range{{1, 5}}},
		{"range one less than chunk", 1, 4, 5, []Range{{1, 4}}},
		{"range one more than chunk", 1, 6, 5, []Range{{1, 5}, {6, 6}}},
		{"several chunks", 0, 24, 10, []Range{{0, 9}, {10, 19}, {20, 24}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkRanges(tt.from, tt.to, tt.size))
		})
	}
}

func TestChunkRanges_CoversRangeExactlyOnce(t *testing.T) {
	ranges := ChunkRanges(100, 1234, 97)
	require.NotEmpty(t, ranges)
	assert.Equal(t, uint64(100), ranges[0].From)
	assert.Equal(t, uint64(1234), ranges[len(ranges)-1].To)
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].To+1, ranges[i].From)
	}
}

func newTestScanner(backend *fakeBackend, chunk uint64) *Scanner {
	client := NewClient(backend, WithMaxRetries(0), WithRetryDelay(time.Millisecond))
	return NewScanner(client, ScannerOptions{ChunkSize: chunk, Workers: 3})
}

func TestScanner_ChunkedMatchesUnchunked(t *testing.T) {
	backend := newFakeBackend()
	for _, b := range []uint64{100, 101, 104, 105, 106, 110, 119, 120} {
		backend.logs = append(backend.logs, testLog(b, 1), testLog(b, 0))
	}

	ctx := context.Background()
	from, to := uint64(100), uint64(120)
	width := to - from + 1

	unchunked, err := newTestScanner(backend, 1_000_000).Scan(ctx, LogFilter{Name: "test"}, from, to)
	require.NoError(t, err)
	require.Len(t, unchunked, 16)

	for _, size := range []uint64{width, width - 1, width + 1, 5, 1} {
		got, err := newTestScanner(backend, size).Scan(ctx, LogFilter{Name: "test"}, from, to)
		require.NoError(t, err)
		assert.Equal(t, unchunked, got, "chunk size %d", size)
	}
}

func TestScanner_SortsByBlockThenIndex(t *testing.T) {
	backend := newFakeBackend()
	backend.logs = append(backend.logs, testLog(30, 2), testLog(10, 5), testLog(30, 0), testLog(10, 1))

	logs, err := newTestScanner(backend, 10).Scan(context.Background(), LogFilter{Name: "test"}, 0, 40)
	require.NoError(t, err)
	require.Len(t, logs, 4)

	assert.Equal(t, uint64(10), logs[0].BlockNumber)
	assert.Equal(t, uint(1), logs[0].Index)
	assert.Equal(t, uint(5), logs[1].Index)
	assert.Equal(t, uint64(30), logs[2].BlockNumber)
	assert.Equal(t, uint(0), logs[2].Index)
}

func TestScanner_SkipsRemovedLogs(t *testing.T) {
	backend := newFakeBackend()
	removed := testLog(5, 0)
	removed.Removed = true
	backend.logs = append(backend.logs, removed, testLog(6, 0))

	logs, err := newTestScanner(backend, 10).Scan(context.Background(), LogFilter{Name: "test"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(6), logs[0].BlockNumber)
}

func TestScanner_ChunkFailureFailsScan(t *testing.T) {
	backend := newFakeBackend()
	backend.logs = append(backend.logs, testLog(1, 0), testLog(25, 0))
	boom := errors.New("boom")
	backend.failAt[20] = boom

	logs, err := newTestScanner(backend, 10).Scan(context.Background(), LogFilter{Name: "test"}, 0, 29)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, logs)
}

func TestScanner_EmptyRange(t *testing.T) {
	backend := newFakeBackend()
	logs, err := newTestScanner(backend, 10).Scan(context.Background(), LogFilter{Name: "test"}, 50, 40)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Empty(t, backend.queries)
}

func TestScanner_QueriesEachChunkOnce(t *testing.T) {
	backend := newFakeBackend()
	_, err := newTestScanner(backend, 10).Scan(context.Background(), LogFilter{Name: "test"}, 0, 34)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Range{{0, 9}, {10, 19}, {20, 29}, {30, 34}}, backend.queries)
}

// inflightBackend counts concurrent FilterLogs calls.
type inflightBackend struct {
	*fakeBackend
	mu      sync.Mutex
	current int
	peak    int
}

func (b *inflightBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	b.current++
	if b.current > b.peak {
		b.peak = b.current
	}
	b.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	b.mu.Lock()
	b.current--
	b.mu.Unlock()
	return b.fakeBackend.FilterLogs(ctx, q)
}

func TestScanner_BoundsInflightAcrossConcurrentScans(t *testing.T) {
	backend := &inflightBackend{fakeBackend: newFakeBackend()}
	client := NewClient(backend, WithMaxRetries(0), WithRetryDelay(time.Millisecond))
	scanner := NewScanner(client, ScannerOptions{ChunkSize: 10, Workers: 3})

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := scanner.Scan(ctx, LogFilter{Name: "test"}, 0, 99)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, backend.queries, 80)
	assert.LessOrEqual(t, backend.peak, 3)
	assert.Positive(t, backend.peak)
}
