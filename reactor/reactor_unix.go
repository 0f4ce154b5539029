//go:build unix && !linux

package reactor

import "golang.org/x/sys/unix"

// pollReactor implements Reactor on top of poll(2). Add/Modify/Remove
// maintain an index by fd so Wait can hand unix.Poll a flat slice without
// scanning a map each time.
type pollReactor struct {
	fds   []unix.PollFd
	index map[int]int // fd -> position in fds
}

// New constructs the poll(2)-backed Reactor used on non-Linux POSIX
// platforms.
func New() (Reactor, error) {
	return &pollReactor{index: map[int]int{}}, nil
}

func pollEvents(interest Interest) int16 {
	var ev int16
	if interest&Read != 0 {
		ev |= unix.POLLIN
	}
	if interest&Write != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func (r *pollReactor) Add(fd int, interest Interest) error {
	if _, ok := r.index[fd]; ok {
		return nil
	}
	r.index[fd] = len(r.fds)
	r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: pollEvents(interest)})
	return nil
}

func (r *pollReactor) Modify(fd int, interest Interest) error {
	i, ok := r.index[fd]
	if !ok {
		return r.Add(fd, interest)
	}
	r.fds[i].Events = pollEvents(interest)
	return nil
}

// Remove swaps the removed entry with the last one to keep fds compact.
func (r *pollReactor) Remove(fd int) {
	i, ok := r.index[fd]
	if !ok {
		return
	}
	last := len(r.fds) - 1
	moved := r.fds[last]
	r.fds[i] = moved
	r.fds = r.fds[:last]
	delete(r.index, fd)
	if int(moved.Fd) != fd {
		r.index[int(moved.Fd)] = i
	}
}

func (r *pollReactor) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	if len(r.fds) == 0 {
		return dst[:0], nil
	}
	n, err := unix.Poll(r.fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst[:0], nil
		}
		return dst[:0], err
	}

	out := dst[:0]
	if n == 0 {
		return out, nil
	}
	for _, pfd := range r.fds {
		if pfd.Revents == 0 {
			continue
		}
		out = append(out, Event{
			Fd:       int(pfd.Fd),
			Readable: pfd.Revents&unix.POLLIN != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
			Errored:  pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
		})
	}
	for i := range r.fds {
		r.fds[i].Revents = 0
	}
	return out, nil
}

func (r *pollReactor) Close() error { return nil }
