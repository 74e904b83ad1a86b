package shard

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/pkg/metric"
)

func TestNewInvalid(t *testing.T) {
	t.Parallel()
	_, err := New(0)
	assert.Error(t, err)
}

func TestSingleShard(t *testing.T) {
	t.Parallel()
	s, err := New(1)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.Zero(t, s.ShardFor(fmt.Sprintf("key.%d", i)))
	}
}

func TestShardingStable(t *testing.T) {
	t.Parallel()
	a, err := New(7)
	require.NoError(t, err)
	b, err := New(7)
	require.NoError(t, err)
	seen := make(map[int]int)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("some.metric.%d", i)
		idx := a.ShardFor(key)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 7)
		assert.Equal(t, idx, a.ShardFor(key))
		assert.Equal(t, idx, b.ShardFor(key))
		seen[idx]++
	}
	assert.Len(t, seen, 7, "keys should spread over all shards")
}

func TestRegisterAndEach(t *testing.T) {
	t.Parallel()
	s, err := New(2)
	require.NoError(t, err)
	m1 := metric.New("a", gobrubeck.GAUGE, 0, nil, nil)
	m2 := metric.New("b", gobrubeck.GAUGE, 1, nil, nil)
	m3 := metric.New("c", gobrubeck.GAUGE, 0, nil, nil)
	s.Register(m1)
	s.Register(m2)
	s.Register(m3)

	var keys []string
	s.List(0).Each(func(m *metric.Metric) {
		keys = append(keys, m.Key)
	})
	assert.Equal(t, []string{"c", "a"}, keys)
	assert.Equal(t, 2, s.List(0).Len())
	assert.Equal(t, 1, s.List(1).Len())
	assert.NotZero(t, s.MemoryBytes())
}

func TestConcurrentRegister(t *testing.T) {
	t.Parallel()
	s, err := New(4)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k.%d.%d", g, i)
				s.Register(metric.New(key, gobrubeck.METER, s.ShardFor(key), nil, nil))
			}
		}(g)
		// walks race with appends
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				s.List(0).Each(func(*metric.Metric) {})
			}
		}()
	}
	wg.Wait()

	total := 0
	unique := make(map[string]bool)
	for i := 0; i < s.Len(); i++ {
		s.List(i).Each(func(m *metric.Metric) {
			assert.Equal(t, i, m.Shard)
			unique[m.Key] = true
			total++
		})
	}
	assert.Equal(t, 4000, total)
	assert.Len(t, unique, 4000)
}
