package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"banyanswarm/core"
	"banyanswarm/core/banyan"
	"banyanswarm/core/swarm"
	"banyanswarm/internal/metrics"
	"banyanswarm/p2p"
	"banyanswarm/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := core.NewLocalBlobStore(core.LocalBlobStoreConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	var self core.NodeId
	self[0] = 9
	registry := swarm.NewRegistry(self, nil)
	tracker := swarm.NewOffsetTracker()
	clock := core.NewClock(0)
	shape := banyan.Shape{MaxLeafSize: 4, MaxBranchFactor: 2, MaxDepth: 8}
	es := swarm.NewEventStore(self, registry, tracker, clock, store, shape, nil)
	svc := service.NewEventService(es, true, nil)

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	axPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	settings := p2p.NewInMemorySettings()
	return NewServer(svc, registry, settings, priv, axPub, 1, 3600, metrics.New(), nil)
}

func mintToken(t *testing.T, s *Server) string {
	t.Helper()
	body, _ := json.Marshal(authRequest{AppId: "com.example.test", DisplayName: "test", Version: "1.0"})
	req := httptest.NewRequest(http.MethodPost, "/api/v2/auth", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestAuthMintsTokenForTrialManifest(t *testing.T) {
	s := newTestServer(t)
	mintToken(t, s)
}

func TestAuthRejectsNonTrialUnsignedManifest(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(authRequest{AppId: "org.other.app", DisplayName: "x", Version: "1.0"})
	req := httptest.NewRequest(http.MethodPost, "/api/v2/auth", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEventsRequireBearerToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v2/events/offsets", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPublishThenOffsetsThenQuery(t *testing.T) {
	s := newTestServer(t)
	token := mintToken(t, s)

	publishBody, _ := json.Marshal(publishRequestWire{Data: []publishEventWire{
		{Tags: []string{"num"}, Payload: json.RawMessage(`42`)},
	}})
	req := httptest.NewRequest(http.MethodPost, "/api/v2/events/publish", bytes.NewReader(publishBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var published publishResponseWire
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &published))
	require.Len(t, published.Data, 1)

	offReq := httptest.NewRequest(http.MethodGet, "/api/v2/events/offsets", nil)
	offReq.Header.Set("Authorization", "Bearer "+token)
	offRR := httptest.NewRecorder()
	s.Router().ServeHTTP(offRR, offReq)
	require.Equal(t, http.StatusOK, offRR.Code, offRR.Body.String())

	queryBody, _ := json.Marshal(queryRequestWire{Query: "FROM allEvents", Order: "asc"})
	qReq := httptest.NewRequest(http.MethodPost, "/api/v2/events/query", bytes.NewReader(queryBody))
	qReq.Header.Set("Authorization", "Bearer "+token)
	qRR := httptest.NewRecorder()
	s.Router().ServeHTTP(qRR, qReq)
	require.Equal(t, http.StatusOK, qRR.Code, qRR.Body.String())
	lines := bytes.Count(qRR.Body.Bytes(), []byte("\n"))
	require.GreaterOrEqual(t, lines, 2, "want at least an event and a trailing offsets line; body = %s", qRR.Body.String())
}

func TestAdminSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	token := mintToken(t, s)

	setReq := httptest.NewRequest(http.MethodPut, "/api/v2/admin/settings/topic", bytes.NewReader([]byte(`"mytopic"`)))
	setReq.Header.Set("Authorization", "Bearer "+token)
	setRR := httptest.NewRecorder()
	s.Router().ServeHTTP(setRR, setReq)
	require.Equal(t, http.StatusNoContent, setRR.Code, setRR.Body.String())

	getReq := httptest.NewRequest(http.MethodGet, "/api/v2/admin/settings/topic", nil)
	getReq.Header.Set("Authorization", "Bearer "+token)
	getRR := httptest.NewRecorder()
	s.Router().ServeHTTP(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code, getRR.Body.String())
	require.Equal(t, `"mytopic"`, getRR.Body.String())
}

func TestMetricsEndpointExposesRequestCounts(t *testing.T) {
	s := newTestServer(t)
	mintToken(t, s)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "banyanswarm_http_requests_total")
}
