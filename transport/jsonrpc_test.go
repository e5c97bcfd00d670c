package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cperrors "github.com/vinayprograms/controlplane/errors"
)

func echoMethods() Methods {
	return Methods{
		"echo": HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
			var p map[string]string
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &Error{Code: InvalidParams, Message: "Invalid params"}
			}
			p["peer"] = PeerFromContext(ctx)
			return p, nil
		}),
		"reject": HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
			return nil, cperrors.Rejected("worker-1", "duplicate")
		}),
		"boom": HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
			return nil, errors.New("boom")
		}),
	}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind string
		wantCode int
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"m"}`, "request", 0},
		{"string id", `{"jsonrpc":"2.0","id":"a","method":"m"}`, "request", 0},
		{"notification", `{"jsonrpc":"2.0","method":"m","params":{}}`, "notification", 0},
		{"null id is notification", `{"jsonrpc":"2.0","id":null,"method":"m"}`, "notification", 0},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, "response", 0},
		{"bad json", `{nope`, "", ParseError},
		{"bad version", `{"jsonrpc":"1.0","id":1,"method":"m"}`, "", InvalidRequest},
		{"no method no id", `{"jsonrpc":"2.0"}`, "", InvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseInbound([]byte(tt.input))
			if tt.wantCode != 0 {
				var rpcErr *Error
				if !errors.As(err, &rpcErr) || rpcErr.Code != tt.wantCode {
					t.Fatalf("err = %v, want code %d", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var kind string
			switch {
			case msg.Request != nil:
				kind = "request"
			case msg.Notification != nil:
				kind = "notification"
			case msg.Response != nil:
				kind = "response"
			}
			if kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}

func TestDispatch_MethodNotFound(t *testing.T) {
	resp := Dispatch(context.Background(), echoMethods(), &Request{JSONRPC: Version, ID: 7, Method: "missing"})
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %+v", resp)
	}
	if resp.ID != 7 {
		t.Errorf("ID = %v, want 7", resp.ID)
	}
}

func TestDispatch_CodedError(t *testing.T) {
	resp := Dispatch(context.Background(), echoMethods(), &Request{JSONRPC: Version, ID: 1, Method: "reject"})
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != cperrors.RPCRejected {
		t.Errorf("code = %d, want %d", resp.Error.Code, cperrors.RPCRejected)
	}
}

func TestDispatch_PlainError(t *testing.T) {
	resp := Dispatch(context.Background(), echoMethods(), &Request{JSONRPC: Version, ID: 1, Method: "boom"})
	if resp.Error == nil || resp.Error.Code != InternalError {
		t.Fatalf("expected InternalError, got %+v", resp)
	}
}

func TestHTTPHandler_Request(t *testing.T) {
	h := NewHTTPHandler(echoMethods())
	body := `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"msg":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.7:5000"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	var result map[string]string
	if err := resp.Decode(&result); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result["msg"] != "hello" {
		t.Errorf("msg = %q", result["msg"])
	}
	if result["peer"] != "10.0.0.7:5000" {
		t.Errorf("peer = %q", result["peer"])
	}
}

func TestHTTPHandler_ParseError(t *testing.T) {
	h := NewHTTPHandler(echoMethods())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("not json")))

	var resp Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Fatalf("expected ParseError, got %s", rec.Body.String())
	}
}

func TestHTTPHandler_Notification(t *testing.T) {
	h := NewHTTPHandler(echoMethods())
	rec := httptest.NewRecorder()
	body := `{"jsonrpc":"2.0","method":"echo","params":{"msg":"x"}}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body)))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestHTTPHandler_MethodNotAllowed(t *testing.T) {
	h := NewHTTPHandler(echoMethods())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHTTPHandler_BodyTooLarge(t *testing.T) {
	h := NewHTTPHandler(echoMethods())
	rec := httptest.NewRecorder()
	big := bytes.Repeat([]byte("a"), DefaultMaxBodyBytes+10)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(big)))

	var resp Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Fatalf("expected InvalidRequest, got %s", rec.Body.String())
	}
}

func TestClient_Call(t *testing.T) {
	server := httptest.NewServer(NewHTTPHandler(echoMethods()))
	defer server.Close()

	var sawHeader string
	c := NewClient(server.URL, nil)
	c.BeforeSend = func(ctx context.Context, header http.Header) {
		header.Set("X-Test", "1")
		sawHeader = header.Get("X-Test")
	}

	var result map[string]string
	if err := c.Call(context.Background(), "echo", map[string]string{"msg": "hi"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["msg"] != "hi" {
		t.Errorf("msg = %q", result["msg"])
	}
	if sawHeader != "1" {
		t.Error("BeforeSend was not called")
	}
}

func TestClient_RemoteCodedError(t *testing.T) {
	server := httptest.NewServer(NewHTTPHandler(echoMethods()))
	defer server.Close()

	err := NewClient(server.URL, nil).Call(context.Background(), "reject", nil, nil)
	if !cperrors.Is(err, cperrors.ErrCodeRejected) {
		t.Fatalf("err = %v, want REJECTED", err)
	}
	coded := cperrors.AsCodedError(err)
	if coded == nil {
		t.Fatal("expected structured error")
	}
}

func TestClient_MethodNotFound(t *testing.T) {
	server := httptest.NewServer(NewHTTPHandler(echoMethods()))
	defer server.Close()

	err := NewClient(server.URL, nil).Call(context.Background(), "missing", nil, nil)
	if cperrors.Code(err) != cperrors.ErrCodeMethod {
		t.Errorf("code = %v, want METHOD", cperrors.Code(err))
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(NewHTTPHandler(echoMethods()))
	url := server.URL
	server.Close()

	err := NewClient(url, nil).Call(context.Background(), "echo", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !cperrors.IsRetryable(err) {
		t.Errorf("connection refused should be retryable, got %v (%s)", err, cperrors.Code(err))
	}
}

func TestClient_HTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	err := NewClient(server.URL, nil).Call(context.Background(), "echo", nil, nil)
	if !cperrors.Is(err, cperrors.ErrCodeUnavailable) {
		t.Errorf("err = %v, want UNAVAILABLE", err)
	}
}
