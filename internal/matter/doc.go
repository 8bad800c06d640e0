// Package matter owns the WebSocket session to the device-graph server and
// the routing of everything that flows over it.
//
// Outbound: producers enqueue JSON request envelopes ({message_id, command,
// args}) on the shared work queue; the client's drain loop runs each item
// through a local interceptor (some commands are handled entirely inside the
// controller) and writes the rest to the socket.
//
// Inbound: every frame is decoded into a tagged envelope (server banner,
// error, correlated response, event) and dispatched by the Router. Correlated
// responses complete one-shot callbacks from the Registry and feed node
// snapshots to the shadow synchronizer; events feed the event journal and may
// trigger get_node follow-ups back onto the work queue.
package matter
