package session

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/credentials"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/store"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport"
)

func TestCreateDuplicateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, "s1", Config{AutoRestart: true})
	require.NoError(t, err)

	_, err = f.manager.Create(ctx, "s1", Config{AutoRestart: true})
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.Equal(t, 1, f.manager.Count())
}

func TestCreateEmptyID(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Create(context.Background(), "", Config{})
	require.Error(t, err)
	require.Equal(t, 0, f.manager.Count())
}

func TestCreateStartFailureEvictsAndRecordsError(t *testing.T) {
	f := newFixture(t)
	f.dialer.FailNextDial(errors.New("transport down"))

	_, err := f.manager.Create(context.Background(), "s1", Config{AutoRestart: true})
	require.Error(t, err)
	require.Equal(t, 0, f.manager.Count())
	require.Equal(t, "error", f.recorder.lastStatus("s1"))

	// The id is free for a new attempt.
	_, err = f.manager.Create(context.Background(), "s1", Config{AutoRestart: true})
	require.NoError(t, err)
}

func TestGetNeverConstructs(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, f.manager.Count())
}

func TestListSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, "b-session", Config{AutoRestart: true})
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, "a-session", Config{DisplayName: "First", AutoRestart: true})
	require.NoError(t, err)

	snaps := f.manager.List()
	require.Len(t, snaps, 2)
	require.Equal(t, "a-session", snaps[0].SessionID)
	require.Equal(t, "First", snaps[0].DisplayName)
	require.Equal(t, "b-session", snaps[1].SessionID)
	// DisplayName defaults to the session id.
	require.Equal(t, "b-session", snaps[1].DisplayName)
}

func TestDestroyRemovesDespiteLogoutFailure(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "s1")
	f.dialer.Client().LogoutErr = errors.New("logout exploded")

	require.NoError(t, f.manager.Destroy(context.Background(), "s1", false))
	require.Equal(t, 0, f.manager.Count())
	_, err := f.manager.Get("s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDestroyUnknown(t *testing.T) {
	f := newFixture(t)
	err := f.manager.Destroy(context.Background(), "ghost", false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestShutdownKeepsSessionsRestorable(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "s1")
	h, err := f.creds.Load("s1")
	require.NoError(t, err)
	require.NoError(t, h.Save([]byte(`{"jid":"1@s"}`)))
	cli := f.dialer.Client()

	f.manager.Shutdown()

	// The connection is closed but the account stays paired: no logout, no
	// credential wipe, and the durable status keeps its last live value so a
	// later boot restores the session.
	require.True(t, cli.Closed())
	require.False(t, cli.LoggedOut())
	require.Equal(t, "connected", f.recorder.lastStatus("s1"))
	require.NotContains(t, f.recorder.eventTypes("s1"), "stopped")
	require.Equal(t, 0, f.manager.Count())

	reloaded := credentials.NewStore(f.tokensDir, zerolog.Nop())
	h2, err := reloaded.Load("s1")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"jid":"1@s"}`), h2.Payload())
}

func TestRestoreAllContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.recorder.restorable = []store.RestorableSession{
		{SessionID: "bad", AutoRestart: true},
		{SessionID: "good", DisplayName: "Good", Context: "ctx", AutoRestart: true},
	}
	f.dialer.FailNextDial(errors.New("transport down"))

	f.manager.RestoreAll(context.Background())

	require.Equal(t, 1, f.manager.Count())
	_, err := f.manager.Get("good")
	require.NoError(t, err)
	require.Equal(t, "error", f.recorder.lastStatus("bad"))

	snap, err := f.manager.Status("good")
	require.NoError(t, err)
	require.Equal(t, "ctx", snap.Context)
	require.True(t, snap.AutoRestart)
}

func TestRestoreAllSkipsRegistered(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "s1")
	f.recorder.restorable = []store.RestorableSession{{SessionID: "s1", AutoRestart: true}}

	f.manager.RestoreAll(context.Background())
	require.Equal(t, 1, f.manager.Count())
	require.Equal(t, 1, f.dialer.Dials())
}

func TestRestoreAllListFailure(t *testing.T) {
	f := newFixture(t)
	f.recorder.listErr = errors.New("store unreachable")
	f.manager.RestoreAll(context.Background())
	require.Equal(t, 0, f.manager.Count())
}

func TestPatchPartialUpdate(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "s1")

	newContext := "sells coffee"
	autoRestart := false
	snap, err := f.manager.Patch(context.Background(), "s1", PatchRequest{
		Context:     &newContext,
		AutoRestart: &autoRestart,
	})
	require.NoError(t, err)
	require.Equal(t, "sells coffee", snap.Context)
	require.False(t, snap.AutoRestart)
	// Untouched field keeps its value.
	require.Equal(t, "s1", snap.DisplayName)

	name := "Renamed"
	snap, err = f.manager.Patch(context.Background(), "s1", PatchRequest{DisplayName: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed", snap.DisplayName)
	require.Equal(t, "sells coffee", snap.Context)

	_, err = f.manager.Patch(context.Background(), "ghost", PatchRequest{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagerSend(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "s1")

	require.NoError(t, f.manager.Send(context.Background(), "s1", "p1", "hello"))
	sent := f.dialer.Client().SentMessages()
	require.Len(t, sent, 1)
	require.Equal(t, "hello", sent[0].Text)

	records := f.recorder.messagesFor("s1")
	require.Len(t, records, 1)
	require.Equal(t, "outgoing", records[0].Direction)
	require.Equal(t, "api", records[0].Metadata["triggered_by"])

	require.ErrorIs(t, f.manager.Send(context.Background(), "ghost", "p1", "x"), ErrNotFound)
}

func TestSendRequiresConnected(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Create(context.Background(), "s1", Config{AutoRestart: true})
	require.NoError(t, err)

	// Dialed but the transport never reported open.
	err = f.manager.Send(context.Background(), "s1", "p1", "hello")
	require.ErrorIs(t, err, ErrNotConnected)

	f.dialer.EmitConnection(transport.ConnectionUpdate{State: transport.StateClosed, CloseReason: transport.CloseConnectionLost})
	err = f.manager.Send(context.Background(), "s1", "p1", "hello")
	require.ErrorIs(t, err, ErrNotConnected)
}
