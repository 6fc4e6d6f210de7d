// Package domain defines the MCP tool surface of the resource server.
//
// The package is intentionally explicit about that surface:
// - typed tool inputs and outputs MCP clients can render,
// - the scope table that says which grant unlocks which tool,
// - and the verified grant each request carries in its context.
//
// Handlers read and write the thin recipe/shopping store; authorization
// decisions live in the scope table so the transport layer can enforce them
// uniformly before dispatch.
package domain
