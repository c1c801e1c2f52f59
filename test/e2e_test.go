package test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/backend"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/console"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/ingest"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/live"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/pipeline"
)

// TestEndToEnd verifies the complete ingest-to-API workflow:
// 1. Enable a live session
// 2. Start the OTLP gRPC ingest source
// 3. Send a span via OTLP gRPC
// 4. Read it back through the gateway's /api/live endpoint
func TestEndToEnd(t *testing.T) {
	// 1. Live session, enabled so ingest is accepted
	session := live.NewSession(live.Config{}, nil)
	session.SetEnabled(true)

	// 2. OTLP ingest source on an ephemeral port
	otlpSrc, err := ingest.NewOTLPSource(
		ingest.OTLPConfig{Host: "127.0.0.1", Port: 0},
		session,
	)
	if err != nil {
		t.Fatalf("failed to create OTLP source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := otlpSrc.Start(ctx); err != nil {
		t.Fatalf("failed to start OTLP source: %v", err)
	}
	defer otlpSrc.Stop()

	endpoint := otlpSrc.Endpoint()
	t.Logf("OTLP source listening on %s", endpoint)

	// Gateway API in front of the same session; the backend stub is
	// never called in this test.
	backendStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unexpected backend call", http.StatusTeapot)
	}))
	defer backendStub.Close()

	bc, err := backend.New(backendStub.URL)
	if err != nil {
		t.Fatalf("failed to create backend client: %v", err)
	}

	mux := http.NewServeMux()
	console.New(session, bc, pipeline.NewDraftStore(), nil).RegisterRoutes(mux)
	gateway := httptest.NewServer(mux)
	defer gateway.Close()

	// 3. Send a span over gRPC
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create grpc client: %v", err)
	}
	defer conn.Close()

	client := collectortrace.NewTraceServiceClient(conn)

	testTraceID := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	testSpanID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	start := time.Now()

	_, err = client.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource: &resourcepb.Resource{
					Attributes: []*commonpb.KeyValue{
						{
							Key: "service.name",
							Value: &commonpb.AnyValue{
								Value: &commonpb.AnyValue_StringValue{StringValue: "e2e-test-service"},
							},
						},
					},
				},
				ScopeSpans: []*tracepb.ScopeSpans{
					{
						Spans: []*tracepb.Span{
							{
								TraceId:           testTraceID,
								SpanId:            testSpanID,
								Name:              "e2e-test-span",
								Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
								StartTimeUnixNano: uint64(start.UnixNano()),
								EndTimeUnixNano:   uint64(start.Add(250 * time.Millisecond).UnixNano()),
								Status: &tracepb.Status{
									Code: tracepb.Status_STATUS_CODE_OK,
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to export span: %v", err)
	}

	// 4. Read it back through the gateway API
	var out struct {
		Entries []*model.LogEntry `json:"entries"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(gateway.URL + "/api/live")
		if err != nil {
			t.Fatalf("failed to query /api/live: %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("failed to decode /api/live response: %v", err)
		}
		if len(out.Entries) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	if len(out.Entries) != 1 {
		t.Fatalf("expected 1 live entry, got %d", len(out.Entries))
	}
	entry := out.Entries[0]

	if entry.SpanName != "e2e-test-span" {
		t.Errorf("expected span name %q, got %q", "e2e-test-span", entry.SpanName)
	}
	if entry.ServiceName != "e2e-test-service" {
		t.Errorf("expected service %q, got %q", "e2e-test-service", entry.ServiceName)
	}
	if entry.TraceID != "0102030405060708090a0b0c0d0e0f10" {
		t.Errorf("unexpected trace ID %q", entry.TraceID)
	}
	if entry.SpanID != "0102030405060708" {
		t.Errorf("unexpected span ID %q", entry.SpanID)
	}
	if entry.Duration < 0.249 || entry.Duration > 0.251 {
		t.Errorf("expected ~0.25s duration, got %f", entry.Duration)
	}

	t.Log("End-to-end test passed: OTLP -> session -> gateway API")
}

// TestEndToEndDedup sends the same span twice and checks the session
// keeps one copy.
func TestEndToEndDedup(t *testing.T) {
	session := live.NewSession(live.Config{}, nil)
	session.SetEnabled(true)

	otlpSrc, err := ingest.NewOTLPSource(
		ingest.OTLPConfig{Host: "127.0.0.1", Port: 0},
		session,
	)
	if err != nil {
		t.Fatalf("failed to create OTLP source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := otlpSrc.Start(ctx); err != nil {
		t.Fatalf("failed to start OTLP source: %v", err)
	}
	defer otlpSrc.Stop()

	conn, err := grpc.NewClient(otlpSrc.Endpoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create grpc client: %v", err)
	}
	defer conn.Close()

	client := collectortrace.NewTraceServiceClient(conn)

	req := &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				ScopeSpans: []*tracepb.ScopeSpans{
					{
						Spans: []*tracepb.Span{
							{
								TraceId:           []byte{9, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
								SpanId:            []byte{9, 2, 3, 4, 5, 6, 7, 8},
								Name:              "dup-span",
								StartTimeUnixNano: uint64(time.Now().UnixNano()),
								EndTimeUnixNano:   uint64(time.Now().UnixNano()),
							},
						},
					},
				},
			},
		},
	}

	for i := 0; i < 2; i++ {
		if _, err := client.Export(context.Background(), req); err != nil {
			t.Fatalf("failed to export span (attempt %d): %v", i, err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for session.Snapshot().Duplicates == 0 && time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
	}

	stats := session.Snapshot()
	if stats.Accepted != 1 {
		t.Errorf("expected 1 accepted span, got %d", stats.Accepted)
	}
	if stats.Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", stats.Duplicates)
	}
	if stats.EntryCount != 1 {
		t.Errorf("expected 1 visible entry, got %d", stats.EntryCount)
	}

	t.Log("Dedup test passed")
}
