// Package transport carries JSON-RPC 2.0 messages for the control plane.
//
// # Unary Calls
//
// HTTPHandler serves one request per POST body and Client issues them:
//
//	mux.Handle("/rpc", transport.NewHTTPHandler(transport.Methods{
//	    "ControlPlane.RegisterNode": registerHandler,
//	}))
//
//	c := transport.NewClient("http://cp:50051/rpc", nil)
//	var out RegisterResult
//	err := c.Call(ctx, "ControlPlane.RegisterNode", params, &out)
//
// The caller's address reaches handlers through PeerFromContext.
//
// # Streams
//
// WebSocketTransport pumps messages in both directions over one connection.
// Both ends use it: the server wraps an upgraded connection, the agent dials
// with DialWebSocket.
//
//	t := transport.NewWebSocketTransport(conn, transport.DefaultWebSocketConfig())
//	go t.Run(ctx)
//	for msg := range t.Recv() {
//	    // msg.Request, msg.Notification or msg.Response
//	}
//
// Close stops accepting sends, flushes what is already queued, then sends a
// close frame. A response queued before Close is therefore always written.
package transport
