package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by bus and bridge instruments.
const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrTopic carries the event name being routed.
	AttrTopic = attribute.Key("event.topic")
	// AttrScope records the processing scope of the event (local, broadcast, both).
	AttrScope = attribute.Key("event.scope")
	// AttrSource tags whether the event originated locally or at the peer.
	AttrSource = attribute.Key("event.source")
	// AttrDirection distinguishes outbound from inbound bridge traffic.
	AttrDirection = attribute.Key("bridge.direction")
	// AttrMessageType differentiates envelope kinds inside the bridge stream.
	AttrMessageType = attribute.Key("message.type")
	// AttrOperation differentiates specific operations (emit, relay, dispatch).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrReason provides additional context for drops and rejections.
	AttrReason = attribute.Key("reason")
	// AttrErrorType categorizes failures by errs code.
	AttrErrorType = attribute.Key("error.type")
	// AttrConnectionState labels connection lifecycle signals.
	AttrConnectionState = attribute.Key("connection.state")
	// AttrRole identifies which side of the bridge the process plays.
	AttrRole = attribute.Key("role")
)

// Bridge directions.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// EventAttributes returns common attributes for event metrics.
func EventAttributes(environment, topic string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrEnvironment.String(environment)}
	if topic != "" {
		attrs = append(attrs, AttrTopic.String(topic))
	}
	return attrs
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, topic, errorType string) []attribute.KeyValue {
	return append(EventAttributes(environment, topic), AttrErrorType.String(errorType))
}

// FrameAttributes returns attributes for bridge frame counters.
func FrameAttributes(environment, direction, messageType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrDirection.String(direction),
		AttrMessageType.String(messageType),
	}
}

// DropAttributes returns attributes for dropped bridge frames.
func DropAttributes(environment, direction, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrDirection.String(direction),
		AttrReason.String(reason),
	}
}

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(environment, role, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrRole.String(role),
		AttrConnectionState.String(state),
	}
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}
