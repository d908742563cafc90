// Package remote carries model decode calls to a separate model-server
// process over gRPC.
//
// The Decoder service has three unary methods (Load, Sample, Unload) whose
// payloads are google.protobuf.Struct values. Client implements
// model.Backend; Server adapts any model.Backend to the service.
package remote
