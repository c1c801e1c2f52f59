package main

import (
	"context"
	"fmt"
	"os"
	"time"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Simple program to send a test inference trace to the gateway's OTLP
// ingest source.
// Usage: go run send_trace.go <endpoint>
// Example: go run send_trace.go 127.0.0.1:38279
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <endpoint>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 127.0.0.1:38279\n", os.Args[0])
		os.Exit(1)
	}

	endpoint := os.Args[1]
	fmt.Printf("📡 Connecting to OTLP endpoint: %s\n", endpoint)

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create grpc client: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	client := collectortrace.NewTraceServiceClient(conn)

	// Build a small inference trace: a chat request with a model call
	// and a guardrail check under it.
	now := time.Now()
	testTraceID := []byte{0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe, 0xba, 0xbe, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	rootSpanID := []byte{0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11}

	spans := []*tracepb.Span{
		{
			TraceId:           testTraceID,
			SpanId:            rootSpanID,
			Name:              "chat.completion",
			Kind:              tracepb.Span_SPAN_KIND_SERVER,
			StartTimeUnixNano: uint64(now.UnixNano()),
			EndTimeUnixNano:   uint64(now.Add(850 * time.Millisecond).UnixNano()),
			Attributes: []*commonpb.KeyValue{
				{
					Key:   "prompt.name",
					Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "chat-v2"}},
				},
				{
					Key:   "gen_ai.request.model",
					Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "llama-3-70b"}},
				},
			},
			Status: &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK},
		},
		{
			TraceId:           testTraceID,
			SpanId:            []byte{0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22},
			ParentSpanId:      rootSpanID,
			Name:              "model.generate",
			Kind:              tracepb.Span_SPAN_KIND_CLIENT,
			StartTimeUnixNano: uint64(now.Add(40 * time.Millisecond).UnixNano()),
			EndTimeUnixNano:   uint64(now.Add(790 * time.Millisecond).UnixNano()),
			Attributes: []*commonpb.KeyValue{
				{
					Key:   "gen_ai.usage.output_tokens",
					Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 412}},
				},
			},
			Status: &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK},
		},
		{
			TraceId:           testTraceID,
			SpanId:            []byte{0x33, 0x33, 0x33, 0x33, 0x33, 0x33, 0x33, 0x33},
			ParentSpanId:      rootSpanID,
			Name:              "guardrail.check",
			Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
			StartTimeUnixNano: uint64(now.Add(800 * time.Millisecond).UnixNano()),
			EndTimeUnixNano:   uint64(now.Add(840 * time.Millisecond).UnixNano()),
			Attributes: []*commonpb.KeyValue{
				{
					Key:   "guardrail.probe",
					Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "toxicity"}},
				},
			},
			Status: &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK},
		},
	}

	fmt.Printf("🚀 Sending trace with %d spans...\n", len(spans))
	_, err = client.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource: &resourcepb.Resource{
					Attributes: []*commonpb.KeyValue{
						{
							Key:   "service.name",
							Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "inference-gateway"}},
						},
						{
							Key:   "deployment.environment",
							Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "development"}},
						},
					},
				},
				ScopeSpans: []*tracepb.ScopeSpans{
					{
						Spans: spans,
					},
				},
			},
		},
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to export spans: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Trace exported successfully!")
	fmt.Printf("📊 Trace ID: deadbeefcafebabe0102030405060708\n")
	fmt.Printf("   - chat.completion (850ms)\n")
	fmt.Printf("   - model.generate (750ms) → 412 tokens\n")
	fmt.Printf("   - guardrail.check (40ms) → toxicity probe\n")
}
