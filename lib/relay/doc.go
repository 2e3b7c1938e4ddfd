// Package relay implements the packet relay core of the tunnel broker.
//
// # Overview
//
// The relay bridges two independent descriptors, the TUN device and the UDP
// socket carrying encapsulated traffic. Each direction owns a PacketQueue, a
// fixed-capacity ring of MTU-sized slots:
//
//	TUN  --> Pump --> PacketQueue --> Dispatcher --> TunProcessor
//	UDP  --> Pump --> PacketQueue --> Dispatcher --> SockProcessor
//
// The two directions share no state and have no ordering relationship.
//
// # Queue Discipline
//
// A queue of capacity N holds at most N-1 packets. One slot is always kept
// free so that full and empty can be told apart from the two indices alone.
// The same slot is the one most recently handed to the dispatcher, so the
// packet view passed to a processor stays valid until the next dequeue.
//
// Slots are reserved under the queue lock, filled by the blocking read with
// no lock held, then published. Processors also run with no lock held.
//
// # Overflow
//
// When a queue is full the pump keeps reading from its descriptor and
// discards what it reads (drop-newest). A packet that arrives after the
// consumer has freed a slot is enqueued rather than dropped. Memory stays
// bounded and the descriptor never stays readable forever. Drops are
// counted per queue.
//
// # Errors and Shutdown
//
// Transient read errors (EINTR, EAGAIN, deadline timeouts) and zero-length
// reads are retried inside the pump. Any other read error is fatal and ends
// Relay.Run with that error. The blocking wait on an empty queue wakes at
// least once per poll interval; that tick, like every loop iteration, checks
// for shutdown.
package relay
