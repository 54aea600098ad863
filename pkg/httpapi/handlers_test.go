package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/credentials"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/session"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport"
	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/transport/transporttest"
)

type echoResponder struct{}

func (echoResponder) Generate(_ context.Context, text, _ string) (string, error) {
	return "re: " + text, nil
}

type apiFixture struct {
	dialer *transporttest.Dialer
	srv    *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dialer := transporttest.NewDialer()
	mgr := session.NewManager(session.Deps{
		Dialer:      dialer,
		Credentials: credentials.NewStore(t.TempDir(), zerolog.Nop()),
		Responder:   echoResponder{},
		Logger:      zerolog.Nop(),
	})
	h := NewHandlers(mgr, Info{Provider: "groq", Model: "test-model", Transport: "fake"}, zerolog.Nop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &apiFixture{dialer: dialer, srv: srv}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test-model", body["model"])
	require.Equal(t, false, body["recorder"])
}

func TestCreateSessionValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/sessions", map[string]any{"displayName": "no id"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"], "sessionId")
}

func TestCreateAndDuplicate(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := body["session"].(map[string]any)
	require.Equal(t, "s1", sess["sessionId"])
	require.Equal(t, "starting", sess["status"])
	// autoRestart defaults to true when omitted.
	require.Equal(t, true, sess["autoRestart"])

	resp, body = f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "session already exists", body["error"])
}

func TestPairingFlow(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s1", "autoRestart": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	f.dialer.EmitConnection(transport.ConnectionUpdate{PairingCode: "ABC"})

	resp, body := f.do(t, http.MethodGet, "/sessions/s1/qr", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ABC", body["pairingCode"])
	require.Equal(t, false, body["connected"])

	f.dialer.EmitConnection(transport.ConnectionUpdate{State: transport.StateOpen})

	resp, body = f.do(t, http.MethodGet, "/sessions/s1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := body["session"].(map[string]any)
	require.Equal(t, "connected", sess["status"])
	require.Equal(t, true, sess["connected"])
	require.Nil(t, sess["pairingCode"])

	resp, body = f.do(t, http.MethodGet, "/sessions/s1/qr", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["connected"])
	require.NotEmpty(t, body["message"])
}

func TestStatusNotFound(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/sessions/ghost/status", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPatchSession(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s1"})

	resp, body := f.do(t, http.MethodPatch, "/sessions/s1", map[string]any{"context": "X", "displayName": "Tenant"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := body["session"].(map[string]any)
	require.Equal(t, "X", sess["context"])
	require.Equal(t, "Tenant", sess["displayName"])

	resp, _ = f.do(t, http.MethodPatch, "/sessions/ghost", map[string]any{"context": "X"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s1"})

	resp, body := f.do(t, http.MethodDelete, "/sessions/s1?removeTokens=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	resp, _ = f.do(t, http.MethodDelete, "/sessions/s1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessage(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s1"})

	resp, _ := f.do(t, http.MethodPost, "/sessions/s1/send", map[string]any{"remoteJid": "p1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Not yet connected.
	resp, _ = f.do(t, http.MethodPost, "/sessions/s1/send", map[string]any{"remoteJid": "p1", "message": "hi"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	f.dialer.EmitConnection(transport.ConnectionUpdate{State: transport.StateOpen})
	resp, body := f.do(t, http.MethodPost, "/sessions/s1/send", map[string]any{"remoteJid": "p1", "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, []transporttest.Sent{{Peer: "p1", Text: "hi"}}, f.dialer.Client().SentMessages())

	resp, _ = f.do(t, http.MethodPost, "/sessions/ghost/send", map[string]any{"remoteJid": "p1", "message": "hi"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAggregateStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s1"})
	f.do(t, http.MethodPost, "/sessions", map[string]any{"sessionId": "s2"})

	resp, body := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(2), body["total"])
	require.Len(t, body["sessions"], 2)

	resp, body = f.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["sessions"], 2)
}
