// Package logx configures homeorch's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional bus sink (records forwarded to a topic, min-level + rate limited)
package logx
