package rpc

// ProtocolVersion is the value of the jsonrpc member on every request.
const ProtocolVersion = "2.0"

// request is the outbound JSON-RPC envelope. A request with a nil ID is a
// notification: the backend sends no reply and no waiter is registered.
//
//nolint:govet //Member order matches the wire examples of the protocol spec.
type request struct {
	Ver    string  `json:"jsonrpc"`
	Method string  `json:"method"`
	Params any     `json:"params,omitempty"`
	ID     *uint32 `json:"id,omitempty"`
}

func newRequest(id *uint32, method string, params any) *request {
	return &request{Ver: ProtocolVersion, Method: method, Params: params, ID: id}
}
