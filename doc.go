// Package docqa answers questions about local documents.
//
// Documents (PDF, DOCX, XLSX, Markdown, text) are parsed into chunks,
// persisted in a chunk store and indexed in a vector store. Each prepared
// document becomes a search tool. A query is answered directly by the
// single document's tool, by one LLM completion over assembled context,
// or by a reasoning/acting agent that calls the document tools.
//
// # Quick Start
//
//	docqa ask --document report.pdf "What were the Q3 numbers?"
//	docqa serve --config docqa.yaml
//	docqa mcp --document handbook.md
//
// A minimal configuration:
//
//	llm:
//	  provider: ollama
//	  model: llama3.2
//	embedder:
//	  provider: ollama
//	chunk_store:
//	  backend: file
//
// # Packages
//
//   - pkg/runtime wires every component from a Config.
//   - pkg/service routes queries and caches structured ones.
//   - pkg/agent runs the reasoning/acting loop over pkg/tools.
//   - pkg/index keeps parsed documents resident and fresh.
//   - pkg/server serves the HTTP API and the MCP tools.
package docqa
