package errors_test

import (
	"context"
	"testing"

	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		err := apperrors.New(apperrors.ErrNetwork, "backend.Login", "request failed", nil, context.DeadlineExceeded)
		require.Equal(t, "[backend.Login] request failed: context deadline exceeded", err.Error())
	})

	t.Run("kind used when message empty", func(t *testing.T) {
		err := apperrors.New(apperrors.ErrNotReady, "sdk.Configure", "", nil, nil)
		require.Equal(t, "[sdk.Configure] not ready", err.Error())
	})
}

func TestError_Unwrap(t *testing.T) {
	payload := map[string]any{"errMsg": "scanQRCode:fail"}
	err := apperrors.New(apperrors.ErrBridgeCapabilityFailed, "sdk.ScanQRCode", "scan failed", payload, context.Canceled)

	require.True(t, apperrors.Is(err, apperrors.ErrBridgeCapabilityFailed))
	require.True(t, apperrors.Is(err, context.Canceled))
	require.False(t, apperrors.Is(err, apperrors.ErrNetwork))

	var target *apperrors.Error
	require.True(t, apperrors.As(apperrors.Wrapf(err, "outer"), &target))
	require.Equal(t, payload, target.Payload)
}

func TestWrapf_Nil(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "nothing"))
}
