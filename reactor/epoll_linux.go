// Copyright 2026 The httpcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package reactor

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux readiness primitive, grounded on
// other_examples/ed5fa6ba_searchktools-fast-server__core-engine.go.go's
// epoll-based reactor loop. Every registration is EPOLLONESHOT: once a
// descriptor fires it stops generating events until add() is called
// again, which re-arms it with EPOLL_CTL_MOD. This matches the portable
// fallback poller's one-shot behavior so engine code built against Loop
// never has to special-case which platform it's running on.
type epollPoller struct {
	fd int

	mu     sync.Mutex
	conns  map[int32]net.Conn
	closed bool
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd, conns: make(map[int32]net.Conn)}, nil
}

func rawFd(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, errors.New("reactor: connection does not expose a raw file descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	controlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if controlErr != nil {
		return 0, controlErr
	}
	return fd, nil
}

func (p *epollPoller) add(conn net.Conn) error {
	fd, err := rawFd(conn)
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT, Fd: int32(fd)}

	p.mu.Lock()
	_, rearm := p.conns[int32(fd)]
	p.mu.Unlock()

	op := unix.EPOLL_CTL_ADD
	if rearm {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.fd, op, fd, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.conns[int32(fd)] = conn
	p.mu.Unlock()
	return nil
}

func (p *epollPoller) remove(conn net.Conn) error {
	fd, err := rawFd(conn)
	if err != nil {
		return err
	}
	_ = unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	p.mu.Lock()
	delete(p.conns, int32(fd))
	p.mu.Unlock()
	return nil
}

func (p *epollPoller) wait(timeout time.Duration) ([]net.Conn, error) {
	events := make([]unix.EpollEvent, 256)
	timeoutMs := -1
	if timeout > 0 {
		timeoutMs = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.fd, events, timeoutMs)
	if err != nil {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, errClosed
		}
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	p.mu.Lock()
	out := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if c, ok := p.conns[events[i].Fd]; ok {
			out = append(out, c)
		}
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return nil, errClosed
	}
	return out, nil
}

func (p *epollPoller) close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return unix.Close(p.fd)
}
