package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictsOldestFirst(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Record(fmt.Sprintf("e%d", i), i%2 == 0)
	}
	require.Equal(t, []string{"e2", "e3", "e4"}, l.Entries())
	require.Equal(t, Stats{Total: 5, Successful: 3}, l.Stats())
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
	assert.Equal(t, DefaultCapacity, New(-4).Capacity())
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0, Stats{}.Rate())
	assert.Equal(t, 66, Stats{Total: 3, Successful: 2}.Rate())
	assert.Equal(t, 100, Stats{Total: 4, Successful: 4}.Rate())
}

func TestConcurrentRecordAndSnapshot(t *testing.T) {
	l := New(16)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Record("x", (w+i)%3 != 0)
				snap := l.Snapshot()
				if snap.Stats.Successful > snap.Stats.Total || len(snap.Entries) > 16 {
					t.Errorf("invariant broken: %+v len=%d", snap.Stats, len(snap.Entries))
					return
				}
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 800, l.Stats().Total)
	require.Len(t, l.Entries(), 16)
}

func TestBoundedFIFO_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("after capacity+k appends exactly the last capacity entries remain", prop.ForAll(
		func(capacity int, appends int) bool {
			l := New(capacity)
			for i := 0; i < appends; i++ {
				l.Record(fmt.Sprint(i), true)
			}
			got := l.Entries()
			want := appends
			if want > capacity {
				want = capacity
			}
			if len(got) != want {
				return false
			}
			first := appends - want
			for i, e := range got {
				if e != fmt.Sprint(first+i) {
					return false
				}
			}
			return l.Stats().Total == appends
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 200),
	))

	properties.Property("successful never exceeds total", prop.ForAll(
		func(outcomes []bool) bool {
			l := New(8)
			for _, ok := range outcomes {
				l.Record("x", ok)
				s := l.Stats()
				if s.Successful > s.Total {
					return false
				}
			}
			return l.Stats().Total == len(outcomes)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
