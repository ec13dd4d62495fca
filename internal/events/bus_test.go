package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-s.C:
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBus_OrderedDelivery(t *testing.T) {
	b := NewBus()
	defer b.Close()
	s := b.Subscribe(KindAuditProgress)

	run := uuid.New()
	// publishing must not block even though nobody is reading yet
	for i := 0; i <= 100; i++ {
		b.Publish(AuditProgress{RunID: run, Percent: i})
	}
	for i := 0; i <= 100; i++ {
		e := recv(t, s)
		require.Equal(t, i, e.(AuditProgress).Percent)
	}
}

func TestBus_KindFilter(t *testing.T) {
	b := NewBus()
	defer b.Close()
	models := b.Subscribe(KindModelUpdated)
	all := b.Subscribe()

	b.Publish(AuditProgress{Percent: 1})
	b.Publish(ModelUpdated{Change: ChangeAdded})

	require.Equal(t, KindModelUpdated, recv(t, models).Kind())
	require.Equal(t, KindAuditProgress, recv(t, all).Kind())
	require.Equal(t, KindModelUpdated, recv(t, all).Kind())
}

func TestBus_CloseSubscription(t *testing.T) {
	b := NewBus()
	defer b.Close()
	s := b.Subscribe()
	s.Close()
	s.Close()

	b.Publish(ModelUpdated{Change: ChangeEdited})
	select {
	case _, ok := <-s.C:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	b := NewBus()
	b.Close()
	s := b.Subscribe()
	_, ok := <-s.C
	require.False(t, ok)
	s.Close()
}

func TestChangeKind_Structural(t *testing.T) {
	require.True(t, ChangeMoved.Structural())
	require.True(t, ChangeReplaced.Structural())
	require.False(t, ChangeReordered.Structural())
	require.False(t, ChangeSettings.Structural())
}
