// Package protocol implements the binary wire protocol spoken between the
// remote viewer and the vb server over a WebSocket connection.
//
// # Wire Format
//
// Every WebSocket binary message carries exactly one frame:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameSession (0x00): Client → Server, start or replace the session
//   - FrameInput (0x01): Client → Server, mouse/wheel/keyboard input
//   - FrameImage (0x02): Server → Client, one captured frame (PNG, or JPEG with FlagJPEG)
//   - FrameControl (0x03): Ping, Pong and Close in either direction
//   - FrameNavigation (0x04): Server → Client, the page settled on a new URL
//   - FrameError (0x05): Server → Client, error code and message
//
// # Encoding
//
//   - Length-prefixed: strings are prefixed with a varint length
//   - Big-endian: fixed-width integers and IEEE 754 floats
//   - Booleans: a single 0x00 or 0x01 byte
//
// Image payloads are the raw encoded screenshot; no further framing applies.
package protocol
