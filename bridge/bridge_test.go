package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/wecom-session/bridge"
	"github.com/jrsteele09/wecom-session/bridge/bridgefake"
	"github.com/stretchr/testify/require"
)

func TestCall_Success(t *testing.T) {
	fb := bridgefake.New()
	fb.Respond(bridge.APIScanQRCode, bridgefake.OK(map[string]any{"resultStr": "store-42"}))

	res := bridge.Call(context.Background(), fb, bridge.APIScanQRCode, nil)
	require.Equal(t, bridge.StatusOK, res.Status)
	require.Equal(t, "store-42", res.Data["resultStr"])
	require.Nil(t, res.Err)
}

func TestCall_Cancel(t *testing.T) {
	fb := bridgefake.New()
	fb.Respond(bridge.APIScanQRCode, bridgefake.Cancelled())

	res := bridge.Call(context.Background(), fb, bridge.APIScanQRCode, nil)
	require.Equal(t, bridge.StatusCancelled, res.Status)
	require.Nil(t, res.Err)
}

func TestCall_FailWithCancelMessageIsCancellation(t *testing.T) {
	fb := bridgefake.New()
	fb.Respond(bridge.APIChooseImage, bridgefake.Failed(0, "chooseImage:cancel"))

	res := bridge.Call(context.Background(), fb, bridge.APIChooseImage, nil)
	require.Equal(t, bridge.StatusCancelled, res.Status)
}

func TestCall_FailKeepsVendorCodeAndMessage(t *testing.T) {
	fb := bridgefake.New()
	fb.Respond(bridge.APIGetLocation, bridgefake.Failed(40001, "getLocation:fail, gps off"))

	res := bridge.Call(context.Background(), fb, bridge.APIGetLocation, nil)
	require.Equal(t, bridge.StatusFailed, res.Status)
	require.NotNil(t, res.Err)
	require.Equal(t, 40001, res.Err.Code)
	require.Equal(t, "getLocation:fail, gps off", res.Err.Message)
	require.Equal(t, bridge.APIGetLocation, res.Err.API)
	require.False(t, res.Err.Permanent())
}

func TestCall_ContextDone(t *testing.T) {
	fb := bridgefake.New()
	fb.Respond(bridge.APIScanQRCode, bridgefake.Hang())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := bridge.Call(ctx, fb, bridge.APIScanQRCode, nil)
	require.Equal(t, bridge.StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.True(t, res.Err.Permanent())
}

func TestVendorError_Permanent(t *testing.T) {
	require.True(t, bridge.NewVendorError("scanQRCode", map[string]any{"errMsg": "scanQRCode:permission denied"}).Permanent())
	require.False(t, bridge.NewVendorError("scanQRCode", map[string]any{"errMsg": "scanQRCode:fail"}).Permanent())
}

func TestNewVendorError_Defaults(t *testing.T) {
	ve := bridge.NewVendorError("closeWindow", nil)
	require.Equal(t, bridge.DefaultErrorCode, ve.Code)
	require.Equal(t, "closeWindow:fail", ve.Message)
}
