package sdk

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jrsteele09/wecom-session/bridge"
	"github.com/jrsteele09/wecom-session/events"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/jrsteele09/wecom-session/internal/utils"
)

// Outcome of a capability call. A user cancellation is an Outcome with
// Cancelled set and a nil error.
type Outcome[T any] struct {
	Value     T
	Cancelled bool
}

type ShareContent struct {
	Title  string
	Desc   string
	Link   string
	ImgURL string
}

type LocationOptions struct {
	Type string // "wgs84" (default) or "gcj02"
}

type Location struct {
	Latitude  float64
	Longitude float64
	Speed     float64
	Accuracy  float64
}

type ChooseImageOptions struct {
	Count      int
	SizeType   []string // "original", "compressed"
	SourceType []string // "album", "camera"
}

type PreviewImageOptions struct {
	Current string
	URLs    []string
}

type ScanOptions struct {
	NeedResult bool
	ScanType   []string // "qrCode", "barCode"
}

// ShareToChat shares content into a chat.
func (m *Manager) ShareToChat(ctx context.Context, content ShareContent) (Outcome[struct{}], error) {
	res, err := m.invoke(ctx, "sdk.ShareToChat", bridge.APIShareAppMessage, shareArgs(content, true),
		events.ShareSuccess, events.ShareFailed)
	return Outcome[struct{}]{Cancelled: res.Status == bridge.StatusCancelled}, err
}

// ShareToMoments shares content to the moments timeline.
func (m *Manager) ShareToMoments(ctx context.Context, content ShareContent) (Outcome[struct{}], error) {
	res, err := m.invoke(ctx, "sdk.ShareToMoments", bridge.APIShareTimeline, shareArgs(content, false),
		events.ShareSuccess, events.ShareFailed)
	return Outcome[struct{}]{Cancelled: res.Status == bridge.StatusCancelled}, err
}

func shareArgs(content ShareContent, withDesc bool) map[string]any {
	args := map[string]any{
		"title":  content.Title,
		"link":   content.Link,
		"imgUrl": content.ImgURL,
	}
	if withDesc {
		args["desc"] = content.Desc
	}
	return args
}

// GetCurrentLocation reads the device position.
func (m *Manager) GetCurrentLocation(ctx context.Context, opts LocationOptions) (Outcome[Location], error) {
	locType := opts.Type
	if locType == "" {
		locType = "wgs84"
	}
	res, err := m.invoke(ctx, "sdk.GetCurrentLocation", bridge.APIGetLocation, map[string]any{"type": locType},
		events.LocationSuccess, events.LocationFailed)
	if err != nil || res.Status != bridge.StatusOK {
		return Outcome[Location]{Cancelled: res.Status == bridge.StatusCancelled}, err
	}
	return Outcome[Location]{Value: Location{
		Latitude:  utils.Float(res.Data, "latitude"),
		Longitude: utils.Float(res.Data, "longitude"),
		Speed:     utils.Float(res.Data, "speed"),
		Accuracy:  utils.Float(res.Data, "accuracy"),
	}}, nil
}

// ChooseImage lets the user pick images and returns their local IDs.
func (m *Manager) ChooseImage(ctx context.Context, opts ChooseImageOptions) (Outcome[[]string], error) {
	count := opts.Count
	if count <= 0 {
		count = 9
	}
	args := map[string]any{"count": count}
	if len(opts.SizeType) > 0 {
		args["sizeType"] = opts.SizeType
	}
	if len(opts.SourceType) > 0 {
		args["sourceType"] = opts.SourceType
	}
	res, err := m.invoke(ctx, "sdk.ChooseImage", bridge.APIChooseImage, args, events.ImageSuccess, events.ImageFailed)
	if err != nil || res.Status != bridge.StatusOK {
		return Outcome[[]string]{Cancelled: res.Status == bridge.StatusCancelled}, err
	}
	return Outcome[[]string]{Value: utils.ToStringSlice(res.Data["localIds"])}, nil
}

// PreviewImage opens the native image viewer.
func (m *Manager) PreviewImage(ctx context.Context, opts PreviewImageOptions) (Outcome[struct{}], error) {
	current := opts.Current
	if current == "" && len(opts.URLs) > 0 {
		current = opts.URLs[0]
	}
	res, err := m.invoke(ctx, "sdk.PreviewImage", bridge.APIPreviewImage,
		map[string]any{"current": current, "urls": opts.URLs}, events.ImageSuccess, events.ImageFailed)
	return Outcome[struct{}]{Cancelled: res.Status == bridge.StatusCancelled}, err
}

// ScanQRCode opens the scanner. With NeedResult the scanned text is returned.
func (m *Manager) ScanQRCode(ctx context.Context, opts ScanOptions) (Outcome[string], error) {
	scanType := opts.ScanType
	if len(scanType) == 0 {
		scanType = []string{"qrCode", "barCode"}
	}
	needResult := 0
	if opts.NeedResult {
		needResult = 1
	}
	res, err := m.invoke(ctx, "sdk.ScanQRCode", bridge.APIScanQRCode,
		map[string]any{"needResult": needResult, "scanType": scanType}, events.ScanSuccess, events.ScanFailed)
	if err != nil || res.Status != bridge.StatusOK {
		return Outcome[string]{Cancelled: res.Status == bridge.StatusCancelled}, err
	}
	return Outcome[string]{Value: utils.String(res.Data, "resultStr")}, nil
}

func (m *Manager) CloseWindow(ctx context.Context) error {
	_, err := m.invoke(ctx, "sdk.CloseWindow", bridge.APICloseWindow, nil, 0, 0)
	return err
}

func (m *Manager) HideOptionMenu(ctx context.Context) error {
	_, err := m.invoke(ctx, "sdk.HideOptionMenu", bridge.APIHideOptionMenu, nil, 0, 0)
	return err
}

func (m *Manager) ShowOptionMenu(ctx context.Context) error {
	_, err := m.invoke(ctx, "sdk.ShowOptionMenu", bridge.APIShowOptionMenu, nil, 0, 0)
	return err
}

// CheckJSAPI reports which of apis the running client supports.
func (m *Manager) CheckJSAPI(ctx context.Context, apis []string) (map[string]bool, error) {
	res, err := m.invoke(ctx, "sdk.CheckJSAPI", bridge.APICheckJsApi, map[string]any{"jsApiList": apis}, 0, 0)
	if err != nil {
		return nil, err
	}
	supported := make(map[string]bool, len(apis))
	checks, _ := res.Data["checkResult"].(map[string]any)
	for _, api := range apis {
		ok, _ := checks[api].(bool)
		supported[api] = ok
	}
	return supported, nil
}

// invoke calls api on the configured bridge, retrying transient failures with
// linear backoff. Cancellation is returned as a result, not an error.
// Zero event kinds are not emitted.
func (m *Manager) invoke(ctx context.Context, op, api string, args map[string]any, success, failed events.Kind) (bridge.Result, error) {
	b, err := m.configuredBridge(op)
	if err != nil {
		return bridge.Result{}, err
	}

	var result bridge.Result
	attempt := 0
	err = backoff.RetryNotify(func() error {
		attempt++
		result = bridge.Call(ctx, b, api, args)
		if result.Status != bridge.StatusFailed {
			return nil
		}
		if result.Err.Permanent() {
			return backoff.Permanent(result.Err)
		}
		return result.Err
	}, m.newBackOff(ctx), func(err error, wait time.Duration) {
		m.logger.Warn().Err(err).Str("api", api).Int("attempt", attempt).Dur("retry_in", wait).Msg("bridge call failed, retrying")
	})
	if err != nil {
		var payload any
		if result.Err != nil {
			payload = result.Err.Payload
		}
		wrapped := apperrors.New(apperrors.ErrBridgeCapabilityFailed, op,
			fmt.Sprintf("%s failed after %d attempt(s)", api, attempt), payload, err)
		m.logger.Error().Err(err).Str("api", api).Int("attempts", attempt).Msg("bridge call failed")
		m.emit(failed, wrapped)
		return result, wrapped
	}

	switch result.Status {
	case bridge.StatusOK:
		m.emit(success, result.Data)
	case bridge.StatusCancelled:
		m.logger.Debug().Str("api", api).Msg("bridge call cancelled by user")
	}
	return result, nil
}

func (m *Manager) configuredBridge(op string) (bridge.Bridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateConfigured || m.bridge == nil {
		return nil, apperrors.New(apperrors.ErrNotReady, op, "bridge is not configured", m.state.String(), nil)
	}
	return m.bridge, nil
}

func (m *Manager) emit(kind events.Kind, payload any) {
	if kind == 0 {
		return
	}
	m.bus.Emit(kind, payload)
}
