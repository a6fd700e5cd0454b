package kafka

import (
	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/propagation"
)

const (
	headerEventType     = "event_type"
	headerSchemaVersion = "schema_version"
	headerContentType   = "content-type"
)

// producerHeaders lets the otel propagator write trace context onto an outgoing message.
type producerHeaders struct {
	headers *[]sarama.RecordHeader
}

func (h producerHeaders) Get(key string) string {
	for _, rh := range *h.headers {
		if string(rh.Key) == key {
			return string(rh.Value)
		}
	}
	return ""
}

func (h producerHeaders) Set(key, value string) {
	for i, rh := range *h.headers {
		if string(rh.Key) == key {
			(*h.headers)[i].Value = []byte(value)
			return
		}
	}
	*h.headers = append(*h.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (h producerHeaders) Keys() []string {
	keys := make([]string, 0, len(*h.headers))
	for _, rh := range *h.headers {
		keys = append(keys, string(rh.Key))
	}
	return keys
}

// consumerHeaders reads trace context from a received message.
type consumerHeaders []*sarama.RecordHeader

func (h consumerHeaders) Get(key string) string {
	for _, rh := range h {
		if rh != nil && string(rh.Key) == key {
			return string(rh.Value)
		}
	}
	return ""
}

func (h consumerHeaders) Set(string, string) {}

func (h consumerHeaders) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, rh := range h {
		if rh != nil {
			keys = append(keys, string(rh.Key))
		}
	}
	return keys
}

var (
	_ propagation.TextMapCarrier = producerHeaders{}
	_ propagation.TextMapCarrier = consumerHeaders{}
)
