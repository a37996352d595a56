package position

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yanun0323/decimal"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSnapshotSeedsThenDetectsDrift(t *testing.T) {
	tr := NewTracker()
	key := Key{Account: "DU1", ConID: 265598}

	drift, _ := tr.Snapshot(key, dec(0), dec(0))
	assert.False(t, drift)

	tr.Fill(key, dec(40), dec(10))

	drift, local := tr.Snapshot(key, dec(50), dec(10.2))
	assert.True(t, drift)
	assert.True(t, local.Size.Equal(dec(40)))

	got := tr.Get(key)
	assert.True(t, got.Size.Equal(dec(50)))
	assert.True(t, got.Price.Equal(dec(10.2)))

	drift, _ = tr.Snapshot(key, dec(50), dec(10.2))
	assert.False(t, drift)
}

func TestFirstSnapshotWins(t *testing.T) {
	tr := NewTracker()
	key := Key{Account: "DU1", ConID: 1}

	drift, _ := tr.Snapshot(key, dec(50), dec(9))
	assert.False(t, drift)
	assert.True(t, tr.Get(key).Size.Equal(dec(50)))
}

func TestFillReportsSplit(t *testing.T) {
	tr := NewTracker()
	key := Key{Account: "DU1", ConID: 1}

	res := tr.Fill(key, dec(100), dec(10))
	assert.True(t, res.Opened.Equal(dec(100)))
	assert.True(t, res.Closed.IsZero())
	assert.True(t, res.After.Price.Equal(dec(10)))

	res = tr.Fill(key, dec(-150), dec(12))
	assert.True(t, res.Before.Size.Equal(dec(100)))
	assert.True(t, res.Closed.Equal(dec(-100)))
	assert.True(t, res.Opened.Equal(dec(-50)))
	assert.True(t, tr.Get(key).Size.Equal(dec(-50)))
}

func TestConcurrentFillsSum(t *testing.T) {
	tr := NewTracker()
	key := Key{Account: "DU1", ConID: 7}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			size := dec(1)
			if i%2 == 1 {
				size = dec(2)
			}
			tr.Fill(key, size, dec(5))
		}()
	}
	wg.Wait()

	assert.True(t, tr.Get(key).Size.Equal(dec(75)))
	assert.Len(t, tr.All(), 1)
}
