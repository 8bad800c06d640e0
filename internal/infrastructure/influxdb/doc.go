// Package influxdb provides the optional attribute-history sink.
//
// Every reported attribute update can be mirrored into an InfluxDB bucket,
// giving a queryable time series of device state alongside the shadows'
// latest-value view. Writes are non-blocking and batched by the underlying
// influxdb-client-go v2 write API; the routing path never waits on the
// history store.
package influxdb
