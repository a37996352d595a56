package router

import (
	"sync"
	"testing"
	"time"

	"ibbridge/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateUniqueUnderConcurrency(t *testing.T) {
	r := New(DataRequestBase)
	first, _ := r.Allocate(Meta{Kind: KindMarketData})

	const workers = 16
	const perWorker = 200

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]struct{}{first: {}}
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for range perWorker {
				id, _ := r.Allocate(Meta{Kind: KindHistorical})
				local = append(local, id)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				_, dup := ids[id]
				assert.False(t, dup, "duplicate id %d", id)
				ids[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, workers*perWorker+1)
	assert.Equal(t, workers*perWorker+1, r.Len())
	for id := range ids {
		assert.GreaterOrEqual(t, id, DataRequestBase)
	}
}

func TestBindPreservesChannelAndMeta(t *testing.T) {
	r := New(DataRequestBase)
	oldID, ch := r.Allocate(Meta{Kind: KindHistorical, What: "TRADES", Daily: true})

	newID, bound, err := r.Bind(oldID)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)
	assert.Same(t, ch, bound)

	_, err = r.Resolve(oldID)
	assert.ErrorIs(t, err, exception.ErrRequestNotFound)

	b, err := r.Resolve(newID)
	require.NoError(t, err)
	assert.Equal(t, "TRADES", b.What)
	assert.True(t, b.Daily)
	assert.Same(t, ch, b.Channel)
	assert.Equal(t, 1, r.Len())

	_, _, err = r.Bind(oldID)
	assert.ErrorIs(t, err, exception.ErrRequestNotFound)
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	r := New(DataRequestBase)
	id, _ := r.Allocate(Meta{})

	r.Release(12345)
	r.Release(id)
	r.Release(id)
	assert.Zero(t, r.Len())
	assert.False(t, r.Deliver(id, Data(1)))
	assert.False(t, r.Cancel(id, true))
}

func TestCancelSendsEndAndReleases(t *testing.T) {
	r := New(DataRequestBase)
	id, ch := r.Allocate(Meta{})

	require.True(t, r.Deliver(id, Data(1)))
	require.True(t, r.Cancel(id, true))
	assert.False(t, r.Deliver(id, Data(2)))

	m, ok := ch.Next(t.Context())
	require.True(t, ok)
	assert.Equal(t, 1, m.Payload)

	m, ok = ch.Next(t.Context())
	require.True(t, ok)
	assert.True(t, m.IsEnd())

	_, ok = ch.Next(t.Context())
	assert.False(t, ok)
}

func TestDeliverEndReleasesBinding(t *testing.T) {
	r := New(DataRequestBase)
	id, ch := r.Allocate(Meta{})

	require.True(t, r.Deliver(id, End()))
	assert.Zero(t, r.Len())
	assert.True(t, ch.Ended())
}

func TestBroadcastReachesEveryChannel(t *testing.T) {
	r := New(DataRequestBase)
	_, a := r.Allocate(Meta{})
	_, b := r.Allocate(Meta{})

	assert.Equal(t, 2, r.Broadcast(Notice(1100)))
	for _, ch := range []*Channel{a, b} {
		m, ok := ch.TryNext()
		require.True(t, ok)
		assert.True(t, m.IsNotice())
		assert.Equal(t, 1100, m.Code)
	}
}

func TestUpdateMeta(t *testing.T) {
	r := New(DataRequestBase)
	id, _ := r.Allocate(Meta{})
	at := time.Unix(1700000000, 0)

	assert.True(t, r.Update(id, func(m *Meta) { m.LastBar = at }))
	b, err := r.Resolve(id)
	require.NoError(t, err)
	assert.True(t, b.LastBar.Equal(at))
	assert.False(t, r.Update(id+1, func(*Meta) {}))
}
