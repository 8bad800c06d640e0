// Package process manages the device-graph server subprocess.
//
// The daemon normally connects to an externally managed server. When the
// connection is refused and the server is configured as managed, the
// supervisor asks this package to cold-start it before retrying.
package process
