// Package convert builds new traces from existing ones.
//
// Every converter reads one or more published traces and writes exactly one
// new trace. A failed conversion aborts its writer, so the destination name
// is either published complete or not at all.
//
// Converters run under an OpenTelemetry span named after the conversion and
// log progress through the default slog logger.
package convert
