// ABOUTME: In-memory openclaw.RPC that records calls and replays scripted results
// ABOUTME: Shared by package tests that drive gateway traffic without a socket

package openclawtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/2389/mission-control/internal/openclaw"
)

// Call is one recorded RPC invocation.
type Call struct {
	Config openclaw.Config
	Method string
	Params json.RawMessage
}

// Message is one recorded SendMessage invocation.
type Message struct {
	SessionKey string
	Text       string
	Deliver    bool
}

// Session is one recorded EnsureSession invocation.
type Session struct {
	Key   string
	Label string
}

// Fake implements openclaw.RPC. Zero value is ready to use.
type Fake struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	errs      map[string]error
	hook      func(method string) error

	calls    []Call
	messages []Message
	sessions []Session
}

var _ openclaw.RPC = (*Fake)(nil)

// Respond sets the payload returned for method.
func (f *Fake) Respond(method string, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responses == nil {
		f.responses = map[string]json.RawMessage{}
	}
	f.responses[method] = json.RawMessage(payload)
}

// Fail makes every call to method return err. A nil err clears it.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[string]error{}
	}
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// OnCall runs fn before every call; a non-nil return fails the call. fn may panic.
func (f *Fake) OnCall(fn func(method string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

func (f *Fake) Call(ctx context.Context, cfg openclaw.Config, method string, params any) (json.RawMessage, error) {
	if cfg.URL == "" {
		return nil, openclaw.ErrNotConfigured
	}
	raw, _ := json.Marshal(params)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Config: cfg, Method: method, Params: raw})
	hook := f.hook
	err := f.errs[method]
	payload := f.responses[method]
	f.mu.Unlock()

	if hook != nil {
		if herr := hook(method); herr != nil {
			return nil, herr
		}
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return payload, nil
}

func (f *Fake) SendMessage(ctx context.Context, cfg openclaw.Config, text, sessionKey string, deliver bool) error {
	if _, err := f.Call(ctx, cfg, openclaw.MethodChatSend, map[string]any{
		"sessionKey": sessionKey, "message": text, "deliver": deliver,
	}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, Message{SessionKey: sessionKey, Text: text, Deliver: deliver})
	return nil
}

func (f *Fake) EnsureSession(ctx context.Context, cfg openclaw.Config, sessionKey, label string) error {
	if _, err := f.Call(ctx, cfg, openclaw.MethodSessionsPatch, map[string]any{
		"key": sessionKey, "label": label,
	}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, Session{Key: sessionKey, Label: label})
	return nil
}

// Calls returns every recorded call, in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls for one method.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Messages returns the successfully sent chat messages.
func (f *Fake) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// Sessions returns the successfully ensured sessions.
func (f *Fake) Sessions() []Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Session(nil), f.sessions...)
}

// Reset clears recorded traffic but keeps scripted results.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.messages = nil
	f.sessions = nil
}
