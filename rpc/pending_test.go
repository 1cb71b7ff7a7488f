package rpc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiote-h2020/Registry-sub000/errors"
)

func newTestCall(id string) *pendingCall {
	return &pendingCall{
		correlationID: id,
		inbox:         "_INBOX." + id,
		continuation:  ContinuationFuncs{},
		timer:         time.NewTimer(time.Hour),
		issuedAt:      time.Now(),
	}
}

func TestPendingTableRegisterConsume(t *testing.T) {
	table := newPendingTable()

	call := newTestCall("corr-1")
	require.NoError(t, table.register(call))
	assert.Equal(t, 1, table.size())

	got, err := table.consume("corr-1")
	require.NoError(t, err)
	assert.Same(t, call, got)
	assert.Equal(t, 0, table.size())

	// Consume is exactly-once
	_, err = table.consume("corr-1")
	assert.ErrorIs(t, err, errors.ErrNoPendingCall)
}

func TestPendingTableDuplicateRegistration(t *testing.T) {
	table := newPendingTable()

	require.NoError(t, table.register(newTestCall("corr-dup")))
	err := table.register(newTestCall("corr-dup"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyConsumed)
	assert.Equal(t, 1, table.size())
}

func TestPendingTableConcurrentDistinctIDs(t *testing.T) {
	table := newPendingTable()
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("corr-%d", i)
			assert.NoError(t, table.register(newTestCall(id)))
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, table.size())

	// Each id routes to exactly its own call
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("corr-%d", i)
		call, err := table.consume(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, call.correlationID)
	}
	assert.Equal(t, 0, table.size())
}

func TestContinuationFuncsAdapter(t *testing.T) {
	var gotReply []byte
	var timedOut bool

	cont := ContinuationFuncs{
		Reply:   func(_ context.Context, data []byte) { gotReply = data },
		Timeout: func(_ context.Context) { timedOut = true },
	}

	cont.OnReply(context.Background(), []byte("payload"))
	assert.Equal(t, []byte("payload"), gotReply)
	assert.False(t, timedOut)

	cont.OnTimeout(context.Background())
	assert.True(t, timedOut)

	// Nil funcs are safe no-ops
	empty := ContinuationFuncs{}
	assert.NotPanics(t, func() {
		empty.OnReply(context.Background(), nil)
		empty.OnTimeout(context.Background())
	})
}
