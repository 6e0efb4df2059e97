// Package openclaw is the client for remote OpenClaw agent gateways.
//
// Gateways speak a JSON frame protocol over websocket. A call opens a
// connection, authenticates with a connect request carrying the gateway token,
// sends one request frame and waits for the response frame with the same id:
//
//	{"type":"req","id":"...","method":"agents.list","params":{...}}
//	{"type":"res","id":"...","ok":true,"payload":[...]}
//
// Every failure after the URL check is a *GatewayError. Timeouts additionally
// match context.DeadlineExceeded with errors.Is.
package openclaw
