// Package transport implements the datagram exchange between a task and the instrument.
//
// A Conn owns one connected UDP socket. Each Exchange sends one request and waits for the
// response with the same sequence number. Responses larger than a datagram arrive as
// fragments and are reassembled before they are returned. While waiting, the connection
// wakes up every poll interval to check the interrupt token and the context, so a blocked
// exchange can be cancelled from another goroutine with Interrupt.
//
// Datagrams carrying a foreign sequence number, e.g. late responses to an exchange that
// already timed out, are counted and discarded.
package transport
