package controlplane

// JSON-RPC methods served by the control plane.
const (
	MethodRegisterNode    = "ControlPlane.RegisterNode"
	MethodHeartbeat       = "ControlPlane.Heartbeat"
	MethodCloseHeartbeats = "ControlPlane.CloseHeartbeats"
)

// HTTP paths.
const (
	PathRPC        = "/rpc"
	PathHeartbeats = "/heartbeats"
	PathMetrics    = "/metrics"
	PathHealth     = "/healthz"
)

// DefaultListenAddr is where the control plane listens unless configured.
const DefaultListenAddr = "0.0.0.0:50051"

// Registration replies.
const (
	ReasonWelcome   = "Welcome to the cluster!"
	ReasonEmptyName = "Node name cannot be empty"
)

// RegisterParams are the params of ControlPlane.RegisterNode.
type RegisterParams struct {
	NodeName string `json:"node_name"`
}

// RegisterResponse is the result of ControlPlane.RegisterNode. A rejection
// is a normal result with Accepted false, not a JSON-RPC error.
type RegisterResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// CloseAck is the result sent once a heartbeat stream ends cleanly.
type CloseAck struct{}

// Health is the body of GET /healthz.
type Health struct {
	Status string `json:"status"`
	Nodes  int    `json:"nodes"`
}
