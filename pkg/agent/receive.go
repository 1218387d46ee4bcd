package agent

import (
	"errors"
	"io"
	"net"

	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
)

// startReceive spawns one reader per slave connection and a single
// orchestrator that drains the shared queue into the user callback.
//
// Ordering is FIFO per slave connection; messages arriving on different
// slaves are not ordered relative to each other.
func (a *Agent) startReceive() {
	a.wg.Add(len(a.slaves) + 1)
	for _, slave := range a.slaves {
		go a.readLoop(slave)
	}
	go a.orchestrate()
}

// readLoop reads framed messages off one slave until the connection breaks or
// the agent stops.
func (a *Agent) readLoop(conn net.Conn) {
	defer a.wg.Done()

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			select {
			case <-a.shutdown:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					logger.Warn("Receive failed", "username", a.config.Username, "error", err)
				}
			}
			return
		}

		select {
		case a.queue <- msg:
		case <-a.shutdown:
			return
		}
	}
}

// orchestrate serializes callback invocations: one at a time, in queue order.
func (a *Agent) orchestrate() {
	defer a.wg.Done()

	for {
		select {
		case <-a.shutdown:
			return
		case msg := <-a.queue:
			a.invoke(msg)
		}
	}
}

// invoke runs the user callback, isolating the pipeline from its panics.
func (a *Agent) invoke(msg *wire.Message) {
	if a.config.OnMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Receive callback panicked", "username", a.config.Username, "panic", r)
		}
	}()
	a.config.OnMessage(msg)
}
