// Package tool implements the function calling subsystem: a registry of named
// capabilities with JSON-schema parameters that AI backends may invoke during
// a query, plus the built-in radio tools exposing node metadata and telemetry
// to the model. Tool failures are captured per call and serialized as error
// results so a single bad invocation never aborts the surrounding turn.
package tool
