package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playsched-go/internal/apperrors"
)

func TestReasonOf(t *testing.T) {
	assert.Equal(t, Reason(""), ReasonOf(nil))
	assert.Equal(t, ReasonDeviceOffline, ReasonOf(NewError(ReasonDeviceOffline, "gone")))
	assert.Equal(t, ReasonAuthExpired, ReasonOf(fmt.Errorf("wrapped: %w", NewError(ReasonAuthExpired, "401"))))
	assert.Equal(t, ReasonUnknown, ReasonOf(errors.New("boom")))
}

func TestClassify_Timeout(t *testing.T) {
	pe := Classify(fmt.Errorf("put: %w", context.DeadlineExceeded))
	require.NotNil(t, pe)
	assert.Equal(t, ReasonUnknown, pe.Reason)
	assert.Equal(t, "playback call timed out", pe.Message)
	assert.ErrorIs(t, pe, context.DeadlineExceeded)
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		reason Reason
		status int
		code   apperrors.ErrorCode
	}{
		{ReasonDeviceOffline, http.StatusServiceUnavailable, apperrors.ErrorCodeDeviceOffline},
		{ReasonAuthExpired, http.StatusBadGateway, apperrors.ErrorCodePlaybackAuth},
		{ReasonRateLimited, http.StatusTooManyRequests, apperrors.ErrorCodeRateLimited},
		{ReasonNotConfigured, http.StatusServiceUnavailable, apperrors.ErrorCodePlaybackDisabled},
		{ReasonUnknown, http.StatusBadGateway, apperrors.ErrorCodePlaybackFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			appErr := apperrors.EnsureAppError(HTTPError(NewError(tt.reason, "msg")))
			assert.Equal(t, tt.status, appErr.StatusCode)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, string(tt.reason), appErr.Details["reason"])
		})
	}

	assert.Nil(t, HTTPError(nil))
}

func TestHTTPError_AuthExpiredPointsAtStatus(t *testing.T) {
	appErr := apperrors.EnsureAppError(HTTPError(NewError(ReasonAuthExpired, "token revoked")))
	require.NotNil(t, appErr.Remediation)
	assert.Equal(t, "reauthenticate", appErr.Remediation.Action)
	assert.Equal(t, "/v1/spotify/status", appErr.Body().Remediation.Endpoint)

	unknown := apperrors.EnsureAppError(HTTPError(NewError(ReasonUnknown, "boom")))
	assert.Nil(t, unknown.Remediation)
}

func TestUnconfigured(t *testing.T) {
	var port Port = Unconfigured{}
	err := port.Start(context.Background(), "d", "s", StartOptions{})
	assert.Equal(t, ReasonNotConfigured, ReasonOf(err))
	_, err = port.ListDevices(context.Background())
	assert.Equal(t, ReasonNotConfigured, ReasonOf(err))
}
