// Package prometheus renders goAuthClient metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps a [goAuthClient.Client] and exposes an
// [http.Handler]. Counters are named goauthclient_*_total; the request
// latency histogram is goauthclient_request_latency_seconds. Nothing is
// registered globally: callers mount the handler.
package prometheus
