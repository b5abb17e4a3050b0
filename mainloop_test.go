package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMainLoopRunsInOrder(t *testing.T) {
	loop := NewMainLoop()
	defer loop.Close()

	var got []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		assert.True(t, loop.Post(func() {
			got = append(got, i)
			wg.Done()
		}))
	}
	wg.Wait()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestMainLoopRejectsAfterClose(t *testing.T) {
	loop := NewMainLoop()
	loop.Close()
	loop.Close()
	assert.False(t, loop.Post(func() { t.Error("ran after close") }))
}
