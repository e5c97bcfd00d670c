package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	cperrors "github.com/vinayprograms/controlplane/errors"
)

// DefaultMaxBodyBytes caps a unary request body.
const DefaultMaxBodyBytes = 64 * 1024

// HTTPHandler serves one JSON-RPC request per POST body.
type HTTPHandler struct {
	handler      Handler
	maxBodyBytes int64
}

// NewHTTPHandler wraps h for use with net/http.
func NewHTTPHandler(h Handler) *HTTPHandler {
	return &HTTPHandler{handler: h, maxBodyBytes: DefaultMaxBodyBytes}
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		writeJSON(w, NewErrorResponse(nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}))
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		writeJSON(w, NewErrorResponse(nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "body too large"}))
		return
	}

	msg, err := ParseInbound(body)
	if err != nil {
		writeJSON(w, NewErrorResponse(nil, ToRPCError(err)))
		return
	}

	ctx := WithPeer(r.Context(), r.RemoteAddr)
	switch {
	case msg.Notification != nil:
		h.handler.Handle(ctx, msg.Notification.Method, msg.Notification.Params)
		w.WriteHeader(http.StatusNoContent)
	case msg.Request != nil:
		writeJSON(w, Dispatch(ctx, h.handler, msg.Request))
	default:
		writeJSON(w, NewErrorResponse(nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "responses are not accepted"}))
	}
}

func writeJSON(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Client issues JSON-RPC calls over HTTP POST.
type Client struct {
	URL  string
	HTTP *http.Client

	// BeforeSend, when set, may add headers such as trace context.
	BeforeSend func(ctx context.Context, header http.Header)
}

// NewClient creates a client for url. A nil httpClient uses a client with a
// 10 second timeout.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{URL: url, HTTP: httpClient}
}

// Call invokes method with params and decodes the result into result.
// JSON-RPC errors come back as structured errors.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	req, err := NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return cperrors.InvalidInput("encoding params", cperrors.WithCause(err))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return cperrors.InvalidInput("encoding request", cperrors.WithCause(err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return cperrors.Wrap(err, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.BeforeSend != nil {
		c.BeforeSend(ctx, httpReq.Header)
	}

	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return cperrors.Wrapf(err, "calling %s", method)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return cperrors.Unavailable(method+": "+httpResp.Status,
			cperrors.WithMetadata("status", httpResp.Status))
	}

	var resp Response
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, DefaultMaxBodyBytes)).Decode(&resp); err != nil {
		return cperrors.Wrapf(err, "decoding %s response", method)
	}
	return resp.Decode(result)
}
