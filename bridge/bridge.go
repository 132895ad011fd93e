// Package bridge defines the contract of the vendor's native JS bridge and
// normalises its success/fail/cancel callback triplet into a tagged Result.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jrsteele09/wecom-session/internal/utils"
)

// Vendor API names.
const (
	APIShareAppMessage = "onMenuShareAppMessage"
	APIShareTimeline   = "onMenuShareTimeline"
	APIGetLocation     = "getLocation"
	APIChooseImage     = "chooseImage"
	APIPreviewImage    = "previewImage"
	APIScanQRCode      = "scanQRCode"
	APICloseWindow     = "closeWindow"
	APIHideOptionMenu  = "hideOptionMenu"
	APIShowOptionMenu  = "showOptionMenu"
	APICheckJsApi      = "checkJsApi"
)

// DefaultErrorCode is used when the vendor payload carries no errCode.
const DefaultErrorCode = -1

// Callbacks is the vendor's callback triplet. Payloads are untyped.
type Callbacks struct {
	Success func(res map[string]any)
	Fail    func(res map[string]any)
	Cancel  func(res map[string]any)
}

// ConfigOptions is passed to the bridge's config call.
type ConfigOptions struct {
	Debug     bool     `json:"debug"`
	Beta      bool     `json:"beta"`
	AppID     string   `json:"appId"`
	Timestamp int64    `json:"timestamp"`
	NonceStr  string   `json:"nonceStr"`
	Signature string   `json:"signature"`
	JSAPIList []string `json:"jsApiList"`
}

// Bridge is the vendor-injected object. Config is fire-and-forget: its outcome
// arrives through the handlers registered with Ready and Error.
type Bridge interface {
	Config(opts ConfigOptions)
	Ready(fn func())
	Error(fn func(res map[string]any))
	Invoke(api string, args map[string]any, cb Callbacks)
}

// Loader injects the bridge script and returns the bridge once it is available.
type Loader interface {
	Load(ctx context.Context, scriptURL string) (Bridge, error)
}

// Status tags a normalised bridge outcome.
type Status int

const (
	StatusOK Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is the outcome of one bridge call.
type Result struct {
	Status Status
	Data   map[string]any
	Err    *VendorError // set when Status is StatusFailed
}

// VendorError keeps the vendor's original code and message.
type VendorError struct {
	API     string
	Code    int
	Message string
	Payload map[string]any
	Err     error
}

// NewVendorError reads errCode/errMsg out of a vendor payload.
func NewVendorError(api string, res map[string]any) *VendorError {
	ve := &VendorError{
		API:     api,
		Code:    DefaultErrorCode,
		Message: utils.String(res, "errMsg"),
		Payload: res,
	}
	if _, ok := res["errCode"]; ok {
		ve.Code = int(utils.Float(res, "errCode"))
	}
	if ve.Message == "" {
		ve.Message = api + ":fail"
	}
	return ve
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

var permanentMarkers = []string{"permission denied", "not support", "function not exist", "invalid signature"}

// Permanent reports failures that retrying cannot fix.
func (e *VendorError) Permanent() bool {
	if e.Err != nil {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Call invokes api and waits for the first callback. Some vendor builds report
// cancellation through fail with an ":cancel" errMsg; that is normalised to
// StatusCancelled. If ctx ends first the result is a permanent failure.
func Call(ctx context.Context, b Bridge, api string, args map[string]any) Result {
	results := make(chan Result, 1)
	var once sync.Once
	settle := func(r Result) {
		once.Do(func() { results <- r })
	}

	b.Invoke(api, args, Callbacks{
		Success: func(res map[string]any) {
			settle(Result{Status: StatusOK, Data: res})
		},
		Fail: func(res map[string]any) {
			if isCancelMessage(utils.String(res, "errMsg")) {
				settle(Result{Status: StatusCancelled, Data: res})
				return
			}
			settle(Result{Status: StatusFailed, Data: res, Err: NewVendorError(api, res)})
		},
		Cancel: func(res map[string]any) {
			settle(Result{Status: StatusCancelled, Data: res})
		},
	})

	select {
	case r := <-results:
		return r
	case <-ctx.Done():
		return Result{
			Status: StatusFailed,
			Err: &VendorError{
				API:     api,
				Code:    DefaultErrorCode,
				Message: api + ":fail " + ctx.Err().Error(),
				Err:     ctx.Err(),
			},
		}
	}
}

func isCancelMessage(msg string) bool {
	return strings.HasSuffix(strings.ToLower(msg), ":cancel")
}
