// Package telemetry provides OpenTelemetry tracing and metrics for finsight.
//
// Spans cover runs (Orchestrator.Run), stages, vector store operations and
// LLM calls. Metric instruments record run and attempt durations, run
// outcomes and gate verdicts. Exporters speak OTLP over gRPC or
// http/protobuf.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  service_name: finsight
//	  sampling:
//	    rate: 0.25
//	  metrics:
//	    enabled: true
//	    export_interval: 15s
//
// Telemetry failures never stop the service. An exporter that cannot be
// created leaves the instance degraded with no-op providers.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	runSomething()
//	tt.AssertSpanExists(t, "Orchestrator.Run")
package telemetry
