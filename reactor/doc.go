// Package reactor provides the single readiness-multiplex primitive the
// chatroom server's event loop blocks on each iteration: register a file
// descriptor for read and/or write readiness, wait for a batch of ready
// descriptors with an infinite timeout, and adjust interest as connections
// gain or drain outbound backlog.
//
// On Linux this is backed by epoll(7). On other POSIX platforms it falls
// back to poll(2) over a flat pollfd slice.
package reactor
