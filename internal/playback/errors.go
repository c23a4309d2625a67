package playback

import (
	"net/http"

	"github.com/strefethen/playsched-go/internal/apperrors"
)

// Endpoint clients can check when playback credentials are the problem.
const statusEndpoint = "/v1/spotify/status"

// HTTPError maps a playback failure onto an API error.
func HTTPError(err error) error {
	pe := Classify(err)
	if pe == nil {
		return nil
	}
	details := map[string]any{"reason": string(pe.Reason)}
	if pe.Status != 0 {
		details["upstream_status"] = pe.Status
	}

	switch pe.Reason {
	case ReasonDeviceOffline:
		return apperrors.NewUnavailableError(apperrors.ErrorCodeDeviceOffline, pe.Message, details).
			WithRemediation(&apperrors.Remediation{
				Action:     "retry",
				UserAction: "Open the player on the device so it shows up as available",
			})
	case ReasonAuthExpired:
		return apperrors.NewBadGatewayError(apperrors.ErrorCodePlaybackAuth, pe.Message, details).
			WithRemediation(&apperrors.Remediation{
				Action:     "reauthenticate",
				Endpoint:   statusEndpoint,
				UserAction: "Reconnect the playback account",
			})
	case ReasonRateLimited:
		return apperrors.NewRateLimitError(pe.Message, details).
			WithRemediation(&apperrors.Remediation{Action: "retry"})
	case ReasonNotConfigured:
		return apperrors.NewUnavailableError(apperrors.ErrorCodePlaybackDisabled, pe.Message, details).
			WithRemediation(&apperrors.Remediation{
				Action:   "configure",
				Endpoint: statusEndpoint,
			})
	default:
		return apperrors.NewAppError(apperrors.ErrorCodePlaybackFailed, pe.Message, http.StatusBadGateway, details, nil)
	}
}
