// Package mcp exposes quote intake to MCP clients over stdio.
//
// Tools call the intake service directly: ingest_quote runs one raw input
// through dedup, extraction and resolution; get_quote reads a committed
// record back; resolve_client resolves hints against the client
// directory; tool_search lists the tools by keyword.
package mcp
