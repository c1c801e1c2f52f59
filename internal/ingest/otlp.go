package ingest

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

// OTLPConfig holds bind settings for the OTLP gRPC source.
type OTLPConfig struct {
	Host string // e.g. "127.0.0.1"
	Port int    // 0 for ephemeral port assignment
}

// OTLPSource accepts OTLP trace exports over gRPC and converts them to
// the console's span shape before pushing them at the sink. It lets
// local services feed the live view directly, without the platform's
// streaming channel in between.
type OTLPSource struct {
	listener   net.Listener
	grpcServer *grpc.Server
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewOTLPSource creates and binds the gRPC source. Received spans are
// pushed to the sink under the "otlp" source label.
func NewOTLPSource(cfg OTLPConfig, sink SpanSink) (*OTLPSource, error) {
	if sink == nil {
		return nil, fmt.Errorf("span sink cannot be nil")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(grpcServer, &traceService{sink: sink})

	return &OTLPSource{
		listener:   listener,
		grpcServer: grpcServer,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start serves OTLP requests in the background until Stop is called or
// the context ends. The listener is already bound by NewOTLPSource, so
// bind failures surface there, not here.
func (o *OTLPSource) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			o.Stop()
		case <-o.stopChan:
		}
	}()
	go func() {
		if err := o.grpcServer.Serve(o.listener); err != nil && err != grpc.ErrServerStopped {
			log.Printf("⚠️ otlp source stopped: %v", err)
		}
	}()
	return nil
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (o *OTLPSource) Stop() {
	o.stopOnce.Do(func() {
		o.grpcServer.GracefulStop()
		close(o.stopChan)
	})
}

// Endpoint returns the actual listening address, useful with ephemeral
// ports.
func (o *OTLPSource) Endpoint() string {
	if o.listener == nil {
		return ""
	}
	return o.listener.Addr().String()
}

type traceService struct {
	collectortrace.UnimplementedTraceServiceServer
	sink SpanSink
}

// Export handles incoming trace export requests from OTLP clients.
func (t *traceService) Export(
	ctx context.Context,
	req *collectortrace.ExportTraceServiceRequest,
) (*collectortrace.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	t.sink.Ingest("otlp", ConvertResourceSpans(req.ResourceSpans))
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// ConvertResourceSpans flattens the OTLP ResourceSpans -> ScopeSpans ->
// Span hierarchy into console TraceSpans.
func ConvertResourceSpans(resourceSpans []*tracepb.ResourceSpans) []model.TraceSpan {
	var out []model.TraceSpan
	for _, rs := range resourceSpans {
		serviceName := extractServiceName(rs.Resource)
		resourceAttrs := flattenAttributes(resourceAttributes(rs.Resource))

		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				out = append(out, convertSpan(span, serviceName, resourceAttrs))
			}
		}
	}
	return out
}

func convertSpan(span *tracepb.Span, serviceName string, resourceAttrs map[string]string) model.TraceSpan {
	durNanos := int64(span.EndTimeUnixNano) - int64(span.StartTimeUnixNano)
	if durNanos < 0 {
		durNanos = 0
	}

	return model.TraceSpan{
		SpanID:             idToString(span.SpanId),
		ParentSpanID:       idToString(span.ParentSpanId),
		TraceID:            idToString(span.TraceId),
		Timestamp:          model.NewFlexTime(float64(span.StartTimeUnixNano) / 1e6),
		Duration:           &durNanos,
		SpanName:           span.Name,
		ServiceName:        serviceName,
		SpanKind:           span.Kind.String(),
		StatusCode:         statusCode(span.Status),
		StatusMessage:      statusMessage(span.Status),
		ResourceAttributes: resourceAttrs,
		SpanAttributes:     flattenAttributes(span.Attributes),
	}
}

func statusCode(s *tracepb.Status) string {
	if s == nil {
		return "UNSET"
	}
	switch s.Code {
	case tracepb.Status_STATUS_CODE_OK:
		return "OK"
	case tracepb.Status_STATUS_CODE_ERROR:
		return "ERROR"
	}
	return "UNSET"
}

func statusMessage(s *tracepb.Status) string {
	if s == nil {
		return ""
	}
	return s.Message
}

// extractServiceName pulls the service.name resource attribute,
// defaulting to "unknown".
func extractServiceName(resource *resourcepb.Resource) string {
	if resource == nil {
		return "unknown"
	}
	for _, attr := range resource.Attributes {
		if attr.Key == "service.name" {
			if sv := attr.Value.GetStringValue(); sv != "" {
				return sv
			}
		}
	}
	return "unknown"
}

func resourceAttributes(resource *resourcepb.Resource) []*commonpb.KeyValue {
	if resource == nil {
		return nil
	}
	return resource.Attributes
}

// flattenAttributes renders OTLP attributes as a string map, stringing
// non-string values the same way the backend does.
func flattenAttributes(attrs []*commonpb.KeyValue) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		if attr.Value == nil {
			continue
		}
		out[attr.Key] = anyValueString(attr.Value)
	}
	return out
}

func anyValueString(v *commonpb.AnyValue) string {
	switch val := v.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	}
	return v.String()
}

// idToString hex-encodes a span/trace id. All-zero ids mean "absent"
// on the wire and map to the empty string so root detection holds.
func idToString(id []byte) string {
	allZero := true
	for _, b := range id {
		if b != 0 {
			allZero = false
			break
		}
	}
	if len(id) == 0 || allZero {
		return ""
	}
	return fmt.Sprintf("%x", id)
}
