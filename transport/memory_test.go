package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raftcore/raft"
)

func TestMemoryConnectorRoutesByRecipient(t *testing.T) {
	hub := NewHub()
	a := hub.Connector(1)
	b := hub.Connector(2)

	req := raft.RequestVote{RequestId: raft.NewRequestId(), From: 1, To: 2, Term: 1}
	require.NoError(t, a.EnqueueOutgoingRequest(req))

	got, err := b.WaitForNextIncomingMessage(time.Second)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestMemoryConnectorWaitTimesOut(t *testing.T) {
	hub := NewHub()
	a := hub.Connector(1)

	msg, err := a.WaitForNextIncomingMessage(10 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestMemoryConnectorCloseUnblocksWaiters(t *testing.T) {
	hub := NewHub()
	a := hub.Connector(1)

	done := make(chan error, 1)
	go func() {
		_, err := a.WaitForNextIncomingMessage(time.Minute)
		done <- err
	}()

	a.Close()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrShutdown)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock WaitForNextIncomingMessage")
	}
}

func TestMemoryConnectorUnknownRecipientErrors(t *testing.T) {
	hub := NewHub()
	a := hub.Connector(1)

	req := raft.RequestVote{RequestId: raft.NewRequestId(), From: 1, To: 99, Term: 1}
	require.Error(t, a.EnqueueOutgoingRequest(req))
}
