package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func requestSession(t *testing.T, b *testBroker, id domain.AccountID, observer *recordingObserver) SessionSnapshot {
	t.Helper()

	snapshot, err := b.registry.GetOrCreate(context.Background(), id, observer)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.client.Last() != nil }, waitFor, tick)
	return snapshot
}

func activate(t *testing.T, b *testBroker, id domain.AccountID) {
	t.Helper()

	handle := b.client.Last()
	handle.EmitStatus(domain.ConnectionAuthenticated, "")
	handle.EmitStatus(domain.ConnectionOpen, "")
	require.Eventually(t, func() bool { return b.state(id) == domain.SessionActive }, waitFor, tick)
}

func TestSessionFirstRequestIssuesChallenge(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")

	snapshot := requestSession(t, b, "acct-1", observer)
	assert.Equal(t, domain.AccountID("acct-1"), snapshot.AccountID)
	assert.Empty(t, snapshot.QRCode)

	calls := b.client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.AccountID("acct-1"), calls[0].id)
	assert.Equal(t, "/var/lib/wab/credentials/acct-1", calls[0].location)

	b.client.Last().EmitChallenge("XYZ")

	require.Eventually(t, func() bool { return observer.Count(domain.EventChallengeIssued) == 1 }, waitFor, tick)
	event := observer.Events()[0]
	assert.Equal(t, domain.AccountID("acct-1"), event.AccountID)
	assert.Equal(t, "rendered:XYZ", event.QRCode)
	assert.Equal(t, domain.SessionAwaitingScan, b.state("acct-1"))
}

func TestSessionScanLeadsToReady(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	handle := b.client.Last()
	handle.EmitChallenge("XYZ")
	handle.EmitStatus(domain.ConnectionAuthenticated, "")
	handle.EmitStatus(domain.ConnectionOpen, "")

	require.Eventually(t, func() bool { return observer.Count(domain.EventReady) == 1 }, waitFor, tick)
	assert.Equal(t, []domain.EventType{domain.EventChallengeIssued, domain.EventAuthenticated, domain.EventReady}, observer.Types())

	snapshot, ok := b.registry.Snapshot("acct-1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionActive, snapshot.State)
	assert.Empty(t, snapshot.QRCode)
}

func TestSessionOpenWithoutAuthenticatedReportStillAuthenticates(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	handle := b.client.Last()
	handle.EmitChallenge("XYZ")
	handle.EmitStatus(domain.ConnectionOpen, "")

	require.Eventually(t, func() bool { return observer.Count(domain.EventReady) == 1 }, waitFor, tick)
	assert.Equal(t, []domain.EventType{domain.EventChallengeIssued, domain.EventAuthenticated, domain.EventReady}, observer.Types())
}

func TestSessionStoredCredentialsSkipChallenge(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	activate(t, b, "acct-1")

	assert.Zero(t, observer.Count(domain.EventChallengeIssued))
	assert.Equal(t, []domain.EventType{domain.EventAuthenticated, domain.EventReady}, observer.Types())
}

func TestSessionReadyIsRecordedInJournal(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	requestSession(t, b, "acct-1", newObserver("obs-1"))
	activate(t, b, "acct-1")

	require.Eventually(t, func() bool { return b.accounts.Has("acct-1") }, waitFor, tick)
	account, err := b.accounts.GetByID(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wab/credentials/acct-1", account.CredentialLocation)
	assert.Equal(t, domain.SessionActive, account.LastState)
	assert.False(t, account.CreatedAt.IsZero())
}

func TestSessionConnectionLostReconnectsWithSameCredentials(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)
	activate(t, b, "acct-1")

	first := b.client.Last()
	first.EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)

	require.Eventually(t, func() bool { return b.client.ConnectCount() == 2 }, waitFor, tick)
	calls := b.client.Calls()
	assert.Equal(t, calls[0].location, calls[1].location)
	assert.Equal(t, 1, first.Ends())
	assert.Equal(t, domain.SessionReconnecting, b.state("acct-1"))

	second := b.client.Last()
	second.EmitStatus(domain.ConnectionOpen, "")

	require.Eventually(t, func() bool { return observer.Count(domain.EventReady) == 2 }, waitFor, tick)
	assert.Zero(t, observer.Count(domain.EventChallengeIssued))
	assert.Zero(t, observer.Count(domain.EventDisconnected))
	assert.Equal(t, 2, b.client.ConnectCount())
}

func TestSessionAuthenticatedAfterReconnectKeepsGoing(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)
	activate(t, b, "acct-1")

	b.client.Last().EmitStatus(domain.ConnectionClosed, domain.CloseReplaced)
	require.Eventually(t, func() bool { return b.client.ConnectCount() == 2 }, waitFor, tick)

	b.client.Last().EmitStatus(domain.ConnectionAuthenticated, "")
	require.Eventually(t, func() bool { return b.state("acct-1") == domain.SessionAuthenticated }, waitFor, tick)
	b.client.Last().EmitStatus(domain.ConnectionOpen, "")
	require.Eventually(t, func() bool { return b.state("acct-1") == domain.SessionActive }, waitFor, tick)
}

func TestSessionEachCloseReportGetsOneReconnect(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	requestSession(t, b, "acct-1", newObserver("obs-1"))
	activate(t, b, "acct-1")

	b.client.Last().EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)
	require.Eventually(t, func() bool { return b.client.ConnectCount() == 2 }, waitFor, tick)

	b.client.Last().EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)
	require.Eventually(t, func() bool { return b.client.ConnectCount() == 3 }, waitFor, tick)

	// Nothing else happens until the next report.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, b.client.ConnectCount())
	assert.Equal(t, domain.SessionReconnecting, b.state("acct-1"))
}

func TestSessionReconnectLimitEndsSession(t *testing.T) {
	t.Parallel()

	b := newTestBroker(func(_ *fakeClient, _ *fakeLocator, _ *fakeRenderer, cfg *RegistryConfig) {
		cfg.MaxConsecutiveReconnects = 2
	})
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)
	activate(t, b, "acct-1")

	for attempt := 1; attempt <= 2; attempt++ {
		b.client.Last().EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)
		require.Eventually(t, func() bool { return b.client.ConnectCount() == attempt+1 }, waitFor, tick)
	}
	b.client.Last().EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)

	require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
	events := observer.Events()
	assert.Equal(t, domain.CloseReconnectLimit, events[len(events)-1].Reason)
	assert.Equal(t, 3, b.client.ConnectCount())
	assert.Empty(t, b.locator.Purged())
}

func TestSessionReconnectBudgetResetsOnReady(t *testing.T) {
	t.Parallel()

	b := newTestBroker(func(_ *fakeClient, _ *fakeLocator, _ *fakeRenderer, cfg *RegistryConfig) {
		cfg.MaxConsecutiveReconnects = 1
	})
	requestSession(t, b, "acct-1", newObserver("obs-1"))
	activate(t, b, "acct-1")

	for attempt := 1; attempt <= 3; attempt++ {
		b.client.Last().EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)
		require.Eventually(t, func() bool { return b.client.ConnectCount() == attempt+1 }, waitFor, tick)
		b.client.Last().EmitStatus(domain.ConnectionOpen, "")
		require.Eventually(t, func() bool { return b.state("acct-1") == domain.SessionActive }, waitFor, tick)
	}
}

func TestSessionTerminalCloseEndsSession(t *testing.T) {
	t.Parallel()

	for _, reason := range []domain.CloseReason{domain.CloseLoggedOut, domain.CloseUnauthorized} {
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()

			b := newTestBroker()
			observer := newObserver("obs-1")
			requestSession(t, b, "acct-1", observer)
			activate(t, b, "acct-1")

			handle := b.client.Last()
			handle.EmitStatus(domain.ConnectionClosed, reason)

			require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
			events := observer.Events()
			assert.Equal(t, reason, events[len(events)-1].Reason)
			assert.Equal(t, 1, b.client.ConnectCount())
			assert.Equal(t, 1, handle.Ends())
			assert.Equal(t, []domain.AccountID{"acct-1"}, b.locator.Purged())
			assert.False(t, b.accounts.Has("acct-1"))

			_, ok := b.registry.Snapshot("acct-1")
			assert.False(t, ok)
		})
	}
}

func TestSessionCloseBeforeAuthenticationIsConnectFailure(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	b.client.Last().EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)

	require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
	assert.Equal(t, []domain.EventType{domain.EventError, domain.EventDisconnected}, observer.Types())
	assert.Equal(t, domain.CloseConnectFailed, observer.Events()[1].Reason)
	assert.Equal(t, 1, b.client.ConnectCount())
}

func TestSessionCloseWhileAwaitingScanEndsSession(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	handle := b.client.Last()
	handle.EmitChallenge("XYZ")
	handle.EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)

	require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
	assert.Equal(t, []domain.EventType{domain.EventChallengeIssued, domain.EventDisconnected}, observer.Types())
	assert.Equal(t, 1, b.client.ConnectCount())
	assert.Empty(t, b.locator.Purged())
}

func TestSessionSetupFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opt    brokerOption
		reason domain.CloseReason
	}{
		{
			name: "locator fails",
			opt: func(_ *fakeClient, l *fakeLocator, _ *fakeRenderer, _ *RegistryConfig) {
				l.locateErr = errors.New("disk full")
			},
			reason: domain.CloseSetupFailed,
		},
		{
			name: "client construction fails",
			opt: func(c *fakeClient, _ *fakeLocator, _ *fakeRenderer, _ *RegistryConfig) {
				c.connectErr = errors.New("open store: locked")
			},
			reason: domain.CloseSetupFailed,
		},
		{
			name: "start fails",
			opt: func(c *fakeClient, _ *fakeLocator, _ *fakeRenderer, _ *RegistryConfig) {
				c.startErr = errors.New("dial tcp: refused")
			},
			reason: domain.CloseConnectFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := newTestBroker(tt.opt)
			observer := newObserver("obs-1")

			_, err := b.registry.GetOrCreate(context.Background(), "acct-1", observer)
			require.NoError(t, err)

			require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
			events := observer.Events()
			require.Len(t, events, 2)
			assert.Equal(t, domain.EventError, events[0].Type)
			assert.NotEmpty(t, events[0].Error)
			assert.Equal(t, tt.reason, events[1].Reason)

			_, ok := b.registry.Snapshot("acct-1")
			assert.False(t, ok)
		})
	}
}

func TestSessionFailedStartReleasesHandle(t *testing.T) {
	t.Parallel()

	b := newTestBroker(func(c *fakeClient, _ *fakeLocator, _ *fakeRenderer, _ *RegistryConfig) {
		c.startErr = errors.New("dial tcp: refused")
	})
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
	assert.Equal(t, 1, b.client.Last().Ends())
}

func TestSessionRenderFailureReportsErrorOnly(t *testing.T) {
	t.Parallel()

	b := newTestBroker(func(_ *fakeClient, _ *fakeLocator, r *fakeRenderer, _ *RegistryConfig) {
		r.err = errors.New("payload too large")
	})
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	b.client.Last().EmitChallenge("XYZ")

	require.Eventually(t, func() bool { return observer.Count(domain.EventError) == 1 }, waitFor, tick)
	assert.Zero(t, observer.Count(domain.EventChallengeIssued))
	assert.Equal(t, domain.SessionIdle, b.state("acct-1"))
}

func TestSessionRelaysMessages(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)
	activate(t, b, "acct-1")

	sent := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	b.client.Last().EmitMessage(domain.InboundMessage{
		ID:        "3EB0C767D26A",
		SenderID:  "33612345678@s.whatsapp.net",
		ChatID:    "33612345678@s.whatsapp.net",
		Text:      "hello there",
		Timestamp: sent,
	})

	require.Eventually(t, func() bool { return observer.Count(domain.EventMessage) == 1 }, waitFor, tick)
	events := observer.Events()
	message := events[len(events)-1].Message
	require.NotNil(t, message)
	assert.Equal(t, "33612345678@s.whatsapp.net", message.SenderID)
	assert.Equal(t, "hello there", message.Text)
	assert.True(t, message.Timestamp.Equal(sent))
}

func TestSessionIgnoresEventsFromSupersededAttempt(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)
	activate(t, b, "acct-1")

	stale := b.client.Last()
	stale.EmitStatus(domain.ConnectionClosed, domain.CloseConnectionLost)
	require.Eventually(t, func() bool { return b.client.ConnectCount() == 2 }, waitFor, tick)

	stale.EmitStatus(domain.ConnectionClosed, domain.CloseLoggedOut)
	stale.EmitChallenge("OLD")
	stale.EmitMessage(domain.InboundMessage{SenderID: "x", Text: "late"})

	b.client.Last().EmitStatus(domain.ConnectionOpen, "")
	require.Eventually(t, func() bool { return observer.Count(domain.EventReady) == 2 }, waitFor, tick)

	assert.Zero(t, observer.Count(domain.EventDisconnected))
	assert.Zero(t, observer.Count(domain.EventChallengeIssued))
	assert.Zero(t, observer.Count(domain.EventMessage))
	assert.Empty(t, b.locator.Purged())
}

func TestSessionEventsRaisedDuringStartAreHandled(t *testing.T) {
	t.Parallel()

	b := newTestBroker(func(c *fakeClient, _ *fakeLocator, _ *fakeRenderer, _ *RegistryConfig) {
		c.onStart = func(h *fakeHandle) { h.EmitChallenge("SYNC") }
	})
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	require.Eventually(t, func() bool { return observer.Count(domain.EventChallengeIssued) == 1 }, waitFor, tick)
	assert.Equal(t, "rendered:SYNC", observer.Events()[0].QRCode)
}

func TestSessionHandlerPanicTerminatesWithInternalError(t *testing.T) {
	t.Parallel()

	b := newTestBroker(func(c *fakeClient, _ *fakeLocator, _ *fakeRenderer, _ *RegistryConfig) {
		c.onStart = func(*fakeHandle) { panic("boom") }
	})
	observer := newObserver("obs-1")
	requestSession(t, b, "acct-1", observer)

	require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
	events := observer.Events()
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Equal(t, domain.CloseInternalError, events[len(events)-1].Reason)
	assert.Equal(t, 1, b.client.Last().Ends())
}

func TestSessionStopQueuedBeforeStartSkipsConnect(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	session := newSession(b.registry, "acct-1", 1)
	observer := newObserver("obs-1")
	_, err := session.attach(observer)
	require.NoError(t, err)

	// Same order stop uses: flag first, then the signal behind start.
	session.mu.Lock()
	session.stopRequested = true
	session.mu.Unlock()
	session.inbox.post(startSignal{})
	session.inbox.post(stopSignal{reason: domain.CloseLogout, logout: true})
	go session.run()

	select {
	case <-session.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not terminate")
	}

	assert.Zero(t, b.client.ConnectCount())
	assert.Empty(t, b.locator.Located())
	assert.Equal(t, []domain.EventType{domain.EventDisconnected}, observer.Types())
	assert.Equal(t, domain.CloseLogout, observer.Events()[0].Reason)
}

func TestSessionTemporaryBanKeepsCredentials(t *testing.T) {
	t.Parallel()

	for _, reason := range []domain.CloseReason{domain.CloseTemporaryBan, domain.CloseClientOutdated} {
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()

			b := newTestBroker()
			observer := newObserver("obs-1")
			requestSession(t, b, "acct-1", observer)
			activate(t, b, "acct-1")
			require.True(t, b.accounts.Has("acct-1"))

			b.client.For("acct-1").EmitStatus(domain.ConnectionClosed, reason)

			require.Eventually(t, func() bool { return observer.Count(domain.EventDisconnected) == 1 }, waitFor, tick)
			events := observer.Events()
			assert.Equal(t, reason, events[len(events)-1].Reason)
			assert.Equal(t, 1, b.client.ConnectCount())
			assert.Empty(t, b.locator.Purged())
			assert.True(t, b.accounts.Has("acct-1"))
			_, ok := b.registry.Snapshot("acct-1")
			assert.False(t, ok)
		})
	}
}
