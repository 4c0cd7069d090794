package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyPerson(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	cl := New(mock.URL)

	res, err := cl.Identify(context.Background(), "104567890")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, ClassPerson, res.Classification)
	require.NotNil(t, res.Person)
	assert.Equal(t, "Laura Quintero", res.Person.Name)
	assert.Len(t, res.Assets, 2)
}

func TestIdentifyAsset(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	cl := New(mock.URL)

	res, err := cl.Identify(context.Background(), "SN-554422")
	require.NoError(t, err)
	assert.Equal(t, ClassAsset, res.Classification)
	require.NotNil(t, res.Asset)
	assert.Equal(t, "SN-554422", res.Asset.ID)
	require.NotNil(t, res.Person)
	assert.Equal(t, "104567890", res.Person.ID)
}

func TestIdentifyNotFoundIsNotAnError(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	cl := New(mock.URL)

	res, err := cl.Identify(context.Background(), "999999999")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Equal(t, "999999999", res.Code)
}

func TestRegisterThenIdentify(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	cl := New(mock.URL)

	err := cl.Register(context.Background(), Registration{
		PersonID:         "555000111",
		PersonName:       "Nuevo Visitante",
		AssetID:          "SN-NEW-1",
		AssetDescription: "Dell Latitude",
	})
	require.NoError(t, err)

	res, err := cl.Identify(context.Background(), "SN-NEW-1")
	require.NoError(t, err)
	assert.Equal(t, ClassAsset, res.Classification)
	assert.Equal(t, "555000111", res.Person.ID)
}

func TestLogMovementRecorded(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	cl := New(mock.URL)

	err := cl.LogMovement(context.Background(), Movement{
		Direction:  "EXIT",
		PersonID:   "104567890",
		AssetID:    "104567890",
		Outcome:    "EXITOSO (PEATONAL)",
		PersonName: "Laura Quintero",
	})
	require.NoError(t, err)

	moves := mock.Movements()
	require.Len(t, moves, 1)
	assert.Equal(t, "EXIT", moves[0].Direction)
	assert.Equal(t, "EXITOSO (PEATONAL)", moves[0].Outcome)
}

func TestBackendRejectionSurfacesSentinel(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetFailAll(true)
	cl := New(mock.URL)

	err := cl.LogMovement(context.Background(), Movement{Direction: "ENTRY", PersonID: "x", AssetID: "x", Outcome: "EXITOSO"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestTimeoutMapsToSentinel(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	cl := NewWithHTTPClient(slow.URL, &http.Client{Timeout: 20 * time.Millisecond})
	_, err := cl.Identify(context.Background(), "104567890")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTransportFailureMapsToUnavailable(t *testing.T) {
	cl := New("http://127.0.0.1:1") // nothing listens here
	_, err := cl.Identify(context.Background(), "104567890")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNon200MapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cl := New(srv.URL)
	_, err := cl.Identify(context.Background(), "104567890")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMalformedJSONMapsToBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	cl := New(srv.URL)
	_, err := cl.Identify(context.Background(), "104567890")
	assert.ErrorIs(t, err, ErrBadResponse)
}
