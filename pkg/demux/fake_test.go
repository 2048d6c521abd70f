package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeWatchUnwatch(t *testing.T) {
	f := NewFake()
	assert.NoError(t, f.Watch(5, Readable))
	assert.Equal(t, Readable, f.Watched[5])

	assert.NoError(t, f.Unwatch(5))
	_, ok := f.Watched[5]
	assert.False(t, ok)
}

func TestFakeScheduledReady(t *testing.T) {
	f := NewFake()
	f.ScheduleReady(Ready{FD: 3, Events: Readable})
	f.ScheduleReady(Ready{FD: 3, Events: Writable}, Ready{FD: 4, Events: Readable})

	r1, err := f.Wait(0)
	assert.NoError(t, err)
	assert.Equal(t, []Ready{{FD: 3, Events: Readable}}, r1)

	r2, err := f.Wait(0)
	assert.NoError(t, err)
	assert.Len(t, r2, 2)

	r3, err := f.Wait(0)
	assert.NoError(t, err)
	assert.Nil(t, r3)

	assert.Equal(t, 3, f.Waits())
}
