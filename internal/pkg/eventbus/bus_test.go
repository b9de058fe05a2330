package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	var got []string
	b.Subscribe(func(v int) { got = append(got, "first") })
	b.Subscribe(func(v int) { got = append(got, "second") })

	b.Publish(1)

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	b := New[string]("test")
	calls := 0
	unsub := b.Subscribe(func(string) { calls++ })
	other := b.Subscribe(func(string) {})
	require.Equal(t, 2, b.Len())

	unsub()
	unsub()
	b.Publish("x")

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, b.Len())

	other()
	assert.Equal(t, 0, b.Len())
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	delivered := false
	b.Subscribe(func(int) { panic("boom") })
	b.Subscribe(func(int) { delivered = true })

	require.NotPanics(t, func() { b.Publish(7) })
	assert.True(t, delivered)
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()

	b := New[int]("test")
	var unsub Unsubscribe
	count := 0
	unsub = b.Subscribe(func(int) {
		count++
		unsub()
	})

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, count)
}
