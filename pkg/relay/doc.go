// Package relay pumps real-time audio between one browser WebSocket client and
// one remote live-audio session.
//
// A Session owns everything scoped to a single client connection: the remote
// session handle, the outbound and inbound queues, and the client connection
// wrapper. Nothing is shared between sessions.
//
// # Architecture
//
// Four pump goroutines run as one failure unit:
//
//   - readClient: client binary frames → OutboundQueue
//   - sendUplink: OutboundQueue → RemoteSession.SendAudio
//   - receiveDownlink: RemoteSession.Receive → InboundQueue (audio only)
//   - writeClient: InboundQueue → client binary frames
//
// # Data Flow
//
//	Client ─► readClient ─► OutboundQueue(5) ─► sendUplink ─► Remote
//	                                                            │
//	Client ◄─ writeClient ◄─ InboundQueue(∞) ◄─ receiveDownlink ◄┘
//
// # State Machine
//
//	CONNECTING → STREAMING → CLOSING_CLIENT_GONE  ─┐
//	                       → CLOSING_REMOTE_ERROR ─┼→ CLOSED
//	                       → CLOSING_CANCELLED    ─┘
//
// The first pump to return cancels the others. Teardown closes the remote
// session and the client connection exactly once, whichever branch got there
// first.
package relay
