// Package server implements the chat hub: WebSocket connection handling, the
// single event loop that owns every mutation of chat state, command dispatch,
// fan-out to Main, direct-message and group channels, and the AI generation
// sink.
//
// The implementation is organized into specialized files for the hub loop,
// clients, routing, commands, groups, generation, and HTTP handlers.
package server
