// Package script provides nodes whose compute phase is a sandboxed Lua
// chunk or an Ale expression. The script sees its inputs and the node's
// params as arguments, and the table or object it returns is written back
// into the shared store
package script
