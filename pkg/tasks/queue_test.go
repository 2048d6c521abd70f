package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrainRunsInFIFOOrder(t *testing.T) {
	q := New()
	var order []int
	q.Submit(func() { order = append(order, 1) })
	q.Submit(func() { order = append(order, 2) })
	q.Submit(func() { order = append(order, 3) })

	assert.True(t, q.Pending())
	assert.Equal(t, 3, q.Len())

	n := q.Drain()
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.False(t, q.Pending())
}

func TestDrainDoesNotRunTasksSubmittedDuringDrain(t *testing.T) {
	q := New()
	ran := 0
	q.Submit(func() {
		ran++
		q.Submit(func() { ran++ })
	})

	n := q.Drain()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ran)
	assert.True(t, q.Pending())

	n2 := q.Drain()
	assert.Equal(t, 1, n2)
	assert.Equal(t, 2, ran)
}

func TestDrainOnEmptyQueue(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.Drain())
}
