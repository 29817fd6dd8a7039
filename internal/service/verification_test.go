package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/attendance-api/internal/models"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
)

func strPtr(s string) *string       { return &s }
func floatPtr(f float64) *float64   { return &f }
func intPtr(i int) *int             { return &i }
func boolPtr(b bool) *bool          { return &b }
func qrSession(token string) *models.Session {
	return &models.Session{ID: "sess-1", Method: models.MethodQR, QRToken: strPtr(token)}
}

func TestVerifyQRMatch(t *testing.T) {
	session := qrSession("ABC123")
	require.NoError(t, verifyProof(session, MarkProof{QRCode: "ABC123"}))
}

func TestVerifyQRMismatch(t *testing.T) {
	session := qrSession("ABC123")
	err := verifyProof(session, MarkProof{QRCode: "XYZ999"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidQR))
}

func TestVerifyQRRotatedTokenRejected(t *testing.T) {
	session := qrSession("ABC123")
	token := "NEW456"
	session.QRToken = &token
	err := verifyProof(session, MarkProof{QRCode: "ABC123"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidQR))
}

func gpsSession(lat, lng, radius float64) *models.Session {
	return &models.Session{
		ID:           "sess-1",
		Method:       models.MethodGPS,
		CenterLat:    &lat,
		CenterLng:    &lng,
		RadiusMeters: &radius,
	}
}

func TestVerifyGPSInsideFence(t *testing.T) {
	session := gpsSession(19.076, 72.8777, 50)
	// Roughly 15 meters east of center.
	require.NoError(t, verifyProof(session, MarkProof{Lat: floatPtr(19.076), Lng: floatPtr(72.87784)}))
}

func TestVerifyGPSBoundaryInclusive(t *testing.T) {
	session := gpsSession(0, 0, 111.195)
	// 0.000001 degrees of latitude along the meridian is about 0.111195
	// meters, so 0.001 degrees sits at the fence boundary and must pass.
	require.NoError(t, verifyProof(session, MarkProof{Lat: floatPtr(0.001), Lng: floatPtr(0)}))
}

func TestVerifyGPSOutsideFence(t *testing.T) {
	session := gpsSession(19.076, 72.8777, 50)
	// Roughly 1.1 km away.
	err := verifyProof(session, MarkProof{Lat: floatPtr(19.086), Lng: floatPtr(72.8777)})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrOutOfRange))

	appErr := appErrors.FromError(err)
	require.NotNil(t, appErr.Details)
	distance, ok := appErr.Details["distance"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 1112, distance, 5)
	assert.Equal(t, 50.0, appErr.Details["allowed"])
}

func TestVerifyGPSMissingCoordinates(t *testing.T) {
	session := gpsSession(19.076, 72.8777, 50)
	err := verifyProof(session, MarkProof{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestVerifyNetworkSSID(t *testing.T) {
	session := &models.Session{ID: "sess-1", Method: models.MethodNetwork, ExpectedSSID: strPtr("Campus-WiFi")}
	require.NoError(t, verifyProof(session, MarkProof{SSID: "Campus-WiFi"}))

	err := verifyProof(session, MarkProof{SSID: "Home-WiFi"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrWrongNetwork))
}

func TestVerifyBluetoothAcceptsOnSession(t *testing.T) {
	session := &models.Session{ID: "sess-1", Method: models.MethodBluetooth, BeaconCode: strPtr("BEACON1")}
	require.NoError(t, verifyProof(session, MarkProof{}))
}
