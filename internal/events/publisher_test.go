package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(OrderPaid, 42, map[string]string{"method": "CARD"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, OrderPaid, e.Type)
	assert.Equal(t, int64(42), e.AggregateID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestRecorderConcurrentPublish(t *testing.T) {
	rec := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			require.NoError(t, rec.Publish(context.Background(), NewEvent(BoxAssigned, id, nil)))
		}(int64(i))
	}
	wg.Wait()

	assert.Len(t, rec.Events(), 20)
	for _, typ := range rec.Types() {
		assert.Equal(t, BoxAssigned, typ)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewEvent(OrderCreated, 1, nil)))
}
