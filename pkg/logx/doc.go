// Package logx is turboprint's internal diagnostics logger.
//
// It is a small wrapper (logx.Logger) on top of zerolog and serves as the
// fallback channel: handler faults, rotation failures, dropped remote records
// and retry exhaustion are reported here instead of being raised into the
// code that called a turboprint log method.
//
// Console output stays readable (short timestamp + short caller); NewJSON
// produces zerolog JSON lines for machine consumption.
package logx
