// Package mqtt wraps paho.mqtt.golang for Matter Cloud Core.
//
// The controller uses MQTT as a command ingress: cloud-side clients publish
// device-graph commands to the request topic (chip/request by default) and
// receive acknowledgments on the response topic (chip/response). The wrapper
// adds connection state tracking, Last Will and Testament for offline
// detection, automatic re-subscription after reconnect, and panic recovery
// around message handlers.
//
// The client is safe for concurrent use from multiple goroutines.
package mqtt
