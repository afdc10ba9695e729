// Package tools defines the tools the assistant can call and the registry
// that dispatches them.
//
// Includes:
//   - ToolDefinition: name, description, JSON input schema, primary argument.
//   - GenerateSchema[T](): derive JSON Schema from Go argument structs.
//   - Tools: calculator, web_scraper, search_knowledge.
//   - Registry: lookup by name (case and underscore insensitive), argument
//     repair and schema validation before a tool runs.
package tools
