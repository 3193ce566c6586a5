// Package server runs desk commands for local and remote callers.
//
// A Runner serialises commands onto the single desk session. Three transports
// feed it:
//   - TCPServer: one JSON command per connection, read to EOF, handled one connection at a time
//   - WebSocketServer: one command per connection, progress lines streamed back as text frames
//   - RESTServer: a small HTTP API for height queries and asynchronous moves
//
// Forward and ForwardTCP are the matching clients.
package server
