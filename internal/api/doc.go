// Package api provides the HTTP REST surface of the controller daemon.
//
// It mirrors the MQTT command channel: requests are validated, queued, and
// acknowledged the same way, plus read endpoints for node listings and
// shadow documents and the shadow management endpoints (list, delete). The
// server runs as one of the supervised session tasks:
//
//	server, err := api.New(deps)
//	tasks = append(tasks, server.Run)
package api
