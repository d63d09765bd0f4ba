// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Device attributes
	DeviceAddressKey = "device.address"
	DeviceKeyKey     = "device.key"
	DeviceAppKey     = "device.app_id"

	// Session attributes
	TunerNameKey     = "tuner.name"
	ChannelIDKey     = "channel.id"
	TuningKindKey    = "tuning.strategy"
	StreamModeKey    = "stream.mode"
	StreamEncoderKey = "stream.encoder"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes describes a channel session span.
func SessionAttributes(tuner, channelID, strategy, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TunerNameKey, tuner),
		attribute.String(ChannelIDKey, channelID),
		attribute.String(TuningKindKey, strategy),
		attribute.String(StreamModeKey, mode),
	}
}

// ErrorAttributes tags a span with an error classification.
func ErrorAttributes(err error, errorType string) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
