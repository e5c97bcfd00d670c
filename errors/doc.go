// Package errors provides the structured error taxonomy shared by the control
// plane, its wire transport and the node agent.
//
// # Categories
//
//   - Transient: retry may succeed (dropped stream, unreachable server)
//   - Permanent: retry will not help (malformed request, rejected node)
//   - Internal: bugs and unexpected state
//
// # Usage
//
//	err := errors.InvalidInput("node_name must not be empty")
//	wrapped := errors.Wrap(err, "registering node")
//
//	if errors.IsRetryable(err) {
//	    // back off and retry
//	}
//
// # Wire Mapping
//
// Codes map to JSON-RPC 2.0 error codes with ErrorCode.RPCCode and back with
// CodeFromRPC. The full error serializes to JSON and travels in the data
// member of a JSON-RPC error object:
//
//	data, _ := json.Marshal(err)
package errors
