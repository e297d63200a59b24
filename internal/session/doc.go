// Package session drives one client connection through a single authenticate-then-transform exchange.
//
// # States
//
// A session moves strictly forward through:
//
//	AwaitCredentials → Authenticating → Rejected
//	                                  → Accepted → AwaitImage → Processing → SendResult → Closed
//
// Rejected is terminal: the outcome string is written and the connection closed without an image
// phase. Every path, including framing, decode and encode failures, ends with the connection closed.
//
// # Errors
//
// Framing errors from [protocol] abort the session silently (nothing more is written). Decode and
// encode failures from [sobel] are logged and abort without a result frame. Neither reaches the
// acceptor: [Handler.Serve] reports them in its [Report] instead of returning an error.
package session
