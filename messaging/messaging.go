// Package messaging implements the request/response bus peers use to talk
// to each other directly (spec.md §5/§6): a JSON-RPC-style envelope over a
// Transport (a gorilla/websocket connection, or in-process for tests), with
// no encryption applied by this package, reusing the mint's
// subscribe/notify wire shape (cashu NUT-17) for the request/response/
// error framing instead of inventing a new one.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes this bus uses, per spec.md §6.
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

const DefaultTimeout = 30 * time.Second

// Request is a call to a remote peer's handler.
type Request struct {
	JsonRPC string          `json:"jsonrpc"`
	Id      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error, matching the id of the
// Request it answers.
type Response struct {
	JsonRPC string          `json:"jsonrpc"`
	Id      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Transport sends a single framed message to a named peer and delivers
// every inbound frame (from any peer) to Inbox. A Bus does not own
// connection lifecycle; that is Transport's job, so the same Bus logic
// serves a real gorilla/websocket transport and the in-process transport
// used in tests.
type Transport interface {
	Send(peer string, frame []byte) error
	Inbox() <-chan InboundFrame
}

type InboundFrame struct {
	From  string
	Frame []byte
}

// Handler answers an incoming request's params, returning the JSON value
// to place in Result, or an error which becomes an Error with
// ErrCodeInternal unless it is already *Error.
type Handler func(ctx context.Context, from string, method string, params json.RawMessage) (any, error)

var ErrUnknownMethod = errors.New("unknown method")

// Bus multiplexes outgoing requests awaiting a reply and dispatches
// incoming requests to registered handlers.
type Bus struct {
	transport Transport

	mu      sync.Mutex
	pending map[string]chan Response
	methods map[string]Handler

	closeOnce sync.Once
	closed    chan struct{}
}

func NewBus(transport Transport) *Bus {
	b := &Bus{
		transport: transport,
		pending:   make(map[string]chan Response),
		methods:   make(map[string]Handler),
		closed:    make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Handle registers the handler for method. Registering the same method
// twice replaces the previous handler.
func (b *Bus) Handle(method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.methods[method] = h
}

// SendRequest dispatches method/params to peer and returns its request
// id; pair with AwaitResponse to block for the reply.
func (b *Bus) SendRequest(peer string, method string, params any) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	req := Request{JsonRPC: JSONRPCVersion, Id: id, Method: method, Params: paramsJSON}
	frame, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	ch := make(chan Response, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	if err := b.transport.Send(peer, frame); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return "", err
	}
	return id, nil
}

// AwaitResponse blocks until requestId's response arrives, ctx is
// canceled, or timeout elapses (DefaultTimeout if zero). On timeout the
// pending entry is dropped; a late response is simply discarded.
func (b *Bus) AwaitResponse(ctx context.Context, requestId string, timeout time.Duration) (*Response, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	b.mu.Lock()
	ch, ok := b.pending[requestId]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown request id %q", requestId)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return &resp, nil
	case <-ctx.Done():
		b.forget(requestId)
		return nil, ctx.Err()
	case <-timer.C:
		b.forget(requestId)
		return nil, context.DeadlineExceeded
	}
}

// Call is SendRequest followed by AwaitResponse, the common case.
func (b *Bus) Call(ctx context.Context, peer string, method string, params any, timeout time.Duration) (*Response, error) {
	id, err := b.SendRequest(peer, method, params)
	if err != nil {
		return nil, err
	}
	return b.AwaitResponse(ctx, id, timeout)
}

func (b *Bus) forget(requestId string) {
	b.mu.Lock()
	delete(b.pending, requestId)
	b.mu.Unlock()
}

func (b *Bus) readLoop() {
	for {
		select {
		case <-b.closed:
			return
		case inbound, ok := <-b.transport.Inbox():
			if !ok {
				return
			}
			b.dispatch(inbound)
		}
	}
}

func (b *Bus) dispatch(inbound InboundFrame) {
	var asResponse Response
	if err := json.Unmarshal(inbound.Frame, &asResponse); err == nil && asResponse.Id != "" && (asResponse.Result != nil || asResponse.Error != nil) {
		b.mu.Lock()
		ch, ok := b.pending[asResponse.Id]
		if ok {
			delete(b.pending, asResponse.Id)
		}
		b.mu.Unlock()
		if ok {
			ch <- asResponse
		}
		return
	}

	var req Request
	if err := json.Unmarshal(inbound.Frame, &req); err != nil {
		return
	}

	b.mu.Lock()
	handler, ok := b.methods[req.Method]
	b.mu.Unlock()

	if !ok {
		b.reply(inbound.From, req.Id, nil, &Error{Code: ErrCodeMethodNotFound, Message: "unknown method " + req.Method})
		return
	}

	go func() {
		result, err := handler(context.Background(), inbound.From, req.Method, req.Params)
		if err != nil {
			var rpcErr *Error
			if errors.As(err, &rpcErr) {
				b.reply(inbound.From, req.Id, nil, rpcErr)
			} else {
				b.reply(inbound.From, req.Id, nil, &Error{Code: ErrCodeInternal, Message: err.Error()})
			}
			return
		}
		b.reply(inbound.From, req.Id, result, nil)
	}()
}

func (b *Bus) reply(peer string, requestId string, result any, rpcErr *Error) {
	resp := Response{JsonRPC: JSONRPCVersion, Id: requestId}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			resp.Error = &Error{Code: ErrCodeInternal, Message: err.Error()}
		} else {
			resp.Result = resultJSON
		}
	}

	frame, err := json.Marshal(resp)
	if err != nil {
		return
	}
	b.transport.Send(peer, frame)
}

func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
