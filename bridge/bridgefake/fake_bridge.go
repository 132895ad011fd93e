// Package bridgefake is a scriptable in-memory bridge for tests.
package bridgefake

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/wecom-session/bridge"
)

// ConfigReply decides how the fake answers a config call.
type ConfigReply int

const (
	ConfigReady ConfigReply = iota
	ConfigError
	ConfigSilent // neither ready nor error is ever called
)

// Response is one scripted reply to Invoke.
type Response struct {
	Status bridge.Status
	Data   map[string]any
	hang   bool
}

func OK(data map[string]any) Response {
	return Response{Status: bridge.StatusOK, Data: data}
}

func Cancelled() Response {
	return Response{Status: bridge.StatusCancelled, Data: map[string]any{"errMsg": "cancel"}}
}

func Failed(code int, msg string) Response {
	return Response{Status: bridge.StatusFailed, Data: map[string]any{"errCode": float64(code), "errMsg": msg}}
}

// Hang never calls back.
func Hang() Response {
	return Response{hang: true}
}

var _ bridge.Bridge = (*Bridge)(nil)

// Bridge records calls and replies from scripted queues. The last queued
// response for an API repeats once the queue is drained. When ReadyGate is
// set, config replies wait until it is closed.
type Bridge struct {
	ReadyGate chan struct{}

	lock          sync.Mutex
	configReplies []ConfigReply
	configCalls   []bridge.ConfigOptions
	readyFn       func()
	errorFn       func(map[string]any)
	responses     map[string][]Response
	invocations   map[string][]map[string]any
}

func New() *Bridge {
	return &Bridge{
		responses:   make(map[string][]Response),
		invocations: make(map[string][]map[string]any),
	}
}

// ReplyToConfig queues replies for successive config calls.
func (b *Bridge) ReplyToConfig(replies ...ConfigReply) *Bridge {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.configReplies = append(b.configReplies, replies...)
	return b
}

// Respond queues replies for api.
func (b *Bridge) Respond(api string, responses ...Response) *Bridge {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.responses[api] = append(b.responses[api], responses...)
	return b
}

func (b *Bridge) Config(opts bridge.ConfigOptions) {
	b.lock.Lock()
	b.configCalls = append(b.configCalls, opts)
	reply := ConfigReady
	if len(b.configReplies) > 0 {
		reply = b.configReplies[0]
		if len(b.configReplies) > 1 {
			b.configReplies = b.configReplies[1:]
		}
	}
	readyFn, errorFn := b.readyFn, b.errorFn
	b.lock.Unlock()

	if reply == ConfigSilent {
		return
	}
	go func() {
		if b.ReadyGate != nil {
			<-b.ReadyGate
		}
		switch {
		case reply == ConfigReady && readyFn != nil:
			readyFn()
		case reply == ConfigError && errorFn != nil:
			errorFn(map[string]any{"errMsg": "config:invalid signature"})
		}
	}()
}

func (b *Bridge) Ready(fn func()) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.readyFn = fn
}

func (b *Bridge) Error(fn func(res map[string]any)) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.errorFn = fn
}

func (b *Bridge) Invoke(api string, args map[string]any, cb bridge.Callbacks) {
	b.lock.Lock()
	b.invocations[api] = append(b.invocations[api], args)
	resp := Response{Status: bridge.StatusOK, Data: map[string]any{"errMsg": api + ":ok"}}
	if queue := b.responses[api]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			b.responses[api] = queue[1:]
		}
	}
	b.lock.Unlock()

	if resp.hang {
		return
	}
	go func() {
		switch resp.Status {
		case bridge.StatusOK:
			cb.Success(resp.Data)
		case bridge.StatusCancelled:
			cb.Cancel(resp.Data)
		default:
			cb.Fail(resp.Data)
		}
	}()
}

// ConfigCalls returns the options passed to each config call.
func (b *Bridge) ConfigCalls() []bridge.ConfigOptions {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]bridge.ConfigOptions(nil), b.configCalls...)
}

// Invocations returns the args of each call to api.
func (b *Bridge) Invocations(api string) []map[string]any {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]map[string]any(nil), b.invocations[api]...)
}

var _ bridge.Loader = (*Loader)(nil)

// Loader hands out a fixed bridge and counts script injections. When Gate is
// set, Load blocks until it is closed.
type Loader struct {
	Bridge bridge.Bridge
	Err    error
	Gate   chan struct{}

	loads atomic.Int32
	lock  sync.Mutex
	urls  []string
}

func NewLoader(b bridge.Bridge) *Loader {
	return &Loader{Bridge: b}
}

func (l *Loader) Load(ctx context.Context, scriptURL string) (bridge.Bridge, error) {
	l.loads.Add(1)
	l.lock.Lock()
	l.urls = append(l.urls, scriptURL)
	l.lock.Unlock()

	if l.Gate != nil {
		select {
		case <-l.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Bridge, nil
}

// Loads returns how many times the script was injected.
func (l *Loader) Loads() int {
	return int(l.loads.Load())
}

func (l *Loader) URLs() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.urls...)
}
