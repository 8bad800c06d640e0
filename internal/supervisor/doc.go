// Package supervisor owns the device-graph connection lifecycle.
//
// It dials the WebSocket endpoint, runs the receive and drain loops until
// the connection drops, and reconnects. Refused connections get a bounded
// retry budget with a cold start of the managed server in between; any
// other dial failure is fatal.
package supervisor
