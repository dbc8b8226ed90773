package nonce

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIncrementsSequentially(t *testing.T) {
	m := &Manager{nonce: 10}

	assert.Equal(t, uint64(10), m.Next().Uint64())
	assert.Equal(t, uint64(11), m.Next().Uint64())
	assert.Equal(t, uint64(12), m.Current())
}

func TestCurrentDoesNotAdvance(t *testing.T) {
	m := &Manager{nonce: 7}

	assert.Equal(t, uint64(7), m.Current())
	assert.Equal(t, uint64(7), m.Current())
}

func TestNextIsConcurrencySafe(t *testing.T) {
	m := &Manager{nonce: 0}
	const goroutines = 50

	seen := make([]uint64, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			seen[i] = m.Next().Uint64()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines), m.Current())

	unique := make(map[uint64]bool, goroutines)
	for _, n := range seen {
		assert.False(t, unique[n], "nonce %d was handed out twice", n)
		unique[n] = true
	}
	assert.Len(t, unique, goroutines)
}
