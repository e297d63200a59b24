// Package protocol implements the framing used between the image client and server.
//
// Every exchange runs on its own TCP connection, in this exact order:
//
//  1. client → server: username (string frame)
//  2. client → server: password (string frame)
//  3. server → client: one of [AuthSuccess], [AuthFailed], [AccountCreated] (string frame);
//     the connection closes after [AuthFailed]
//  4. client → server: declared file name (string frame)
//  5. client → server: source image (blob frame)
//  6. server → client: processed image (blob frame)
//
// A string frame is a 2-byte big-endian unsigned length followed by that many bytes of UTF-8.
// A blob frame is a 4-byte big-endian signed length followed by exactly that many raw bytes.
//
// Every malformed or truncated frame is reported as [ErrFraming]. A peer that closes the
// connection cleanly at a frame boundary is reported as [ErrPeerClosed], which also matches
// [ErrFraming] under [errors.Is].
package protocol
