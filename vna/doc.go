// Package vna holds the vocabulary shared by the go-vna packages: the flat error enumeration,
// the stimulus and path enumerations, the decoded HardwareDetails descriptor, the task state
// machine and the datagram message codec spoken with the instrument.
//
// Higher level packages build on it: synth quantizes frequencies onto the synthesizer grid,
// cal holds the 12-term calibration algebra, transport performs request/response exchanges
// over UDP and avmu ties them together into a Task.
//
// # Message framing
//
// Every datagram starts with a 16-byte big-endian header:
//
//	magic "AV" | opcode | status | sequence (4) | fragment index (2) | fragment count (2) | payload length (4)
//
// Responses larger than MaxFragmentPayload are split into fragments sharing the request's
// sequence number. The receiver reassembles them before decoding the payload.
package vna
