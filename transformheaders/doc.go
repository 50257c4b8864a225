// Package transformheaders applies header edits to HTTP requests, HTTP
// responses, gRPC metadata, streamed messages and broker records.
//
// A Config lists headers to set, headers to append, headers to remove and an
// optional whitelist. Every run applies them in a fixed order: set, then
// append, then remove. The remove phase removes the configured names plus,
// when a whitelist is configured, every header it does not name, including
// headers added by the earlier phases.
//
// # Basic Usage
//
//	policy := transformheaders.NewBuilder().
//		AddHeader("X-Gateway", "edge-1").
//		AddHeader("X-Client", `{{ header "User-Agent" .request.headers | sanitizeUserAgent }}`).
//		AppendHeader("Via", "1.1 transform-headers").
//		RemoveHeaders("X-Internal-Token").
//		Build()
//
//	handler := policy.Middleware(mux)
//
// # Expressions
//
// Header values are Go templates evaluated against the exchange:
// .context.apiId, .context.attributes, .request, .response and .message.
// Sprig functions are available, except env and expandenv, together with
// jsonPath, xmlPath, header, bearerToken, mask, normalize, sanitizeUserAgent,
// unixToRFC3339 and rfc3339ToUnix. A value without "{{" is a literal. An
// expression that renders no value leaves the header untouched.
//
// # Failures
//
// Policy aborts a run on the first failing expression and reports a *Failure
// with key TRANSFORM_HEADERS_FAILURE: HTTP adapters answer 500, gRPC adapters
// return codes.Internal and Kafka adapters return sarama.ErrInvalidRecord.
// LegacyPolicy skips the failing header, logs it and continues.
//
// # Transports
//
//   - HTTP: Middleware, OnRequest, OnResponse, ModifyResponse
//   - gRPC: UnaryServerInterceptor, StreamServerInterceptor, CreateGatewayMux
//   - Streams: OnMessage, TransformMessages
//   - Brokers: OnKafkaRecord, OnKafkaMessage, AMQPDelivery, AMQPPublishing, NATSMessage
//
// The gRPC interceptors are installed the usual way:
//
//	grpcServer := grpc.NewServer(
//		grpc.UnaryInterceptor(policy.UnaryServerInterceptor()),
//		grpc.StreamInterceptor(policy.StreamServerInterceptor()),
//	)
package transformheaders
