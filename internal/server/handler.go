package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
	"github.com/chatline/chatline/pkg/metrics"
)

// handleConn runs the per-connection loop: read a framed message, classify it
// as instruction or data, and dispatch. The loop ends on stream end, on a
// malformed frame, or on a write failure back to the peer; the deferred
// cleanup then tears down the whole client if this connection ever identified
// one.
func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger.Debug("Connection accepted", "remote", remote)

	// Username bound to this connection by IDENTIFY_MASTER or JOIN_SLAVE.
	thisClient := ""

	defer func() {
		if thisClient != "" {
			s.registry.Cleanup(thisClient)
		}
		_ = conn.Close()
		logger.Debug("Connection closed", "remote", remote)
	}()

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("Stream ended", "remote", remote, "client", thisClient)
			} else {
				logger.Warn("Read failed, closing connection", "remote", remote, "error", err)
			}
			return
		}

		switch {
		case msg.Type.IsInstruction():
			if !s.processInstruction(conn, msg, &thisClient) {
				return
			}
		case thisClient != "":
			if !s.processData(conn, msg) {
				return
			}
		default:
			logger.Warn("Data from unidentified connection dropped", "remote", remote, "type", msg.Type.String())
		}
	}
}

// reply writes a RESPONSE back on the connection the request arrived on.
// Returns false when the write fails and the handler should stop.
func (s *Server) reply(conn net.Conn, dst *wire.User, resp wire.Response) bool {
	if err := wire.WriteMessage(conn, wire.NewResponse(dst, resp)); err != nil {
		logger.Warn("Reply failed", "error", err)
		return false
	}
	return true
}

// replyList writes an OBJECT message carrying a list of names.
func (s *Server) replyList(conn net.Conn, dst *wire.User, resp wire.Response, names []string) bool {
	msg, err := wire.NewListReply(dst, resp, names)
	if err != nil {
		logger.Error("Building list reply failed", "error", err)
		return false
	}
	if err := wire.WriteMessage(conn, msg); err != nil {
		logger.Warn("Reply failed", "error", err)
		return false
	}
	return true
}

// processInstruction executes one control instruction and writes its reply.
// Returns false when the connection should be closed.
func (s *Server) processInstruction(conn net.Conn, msg *wire.Message, thisClient *string) bool {
	username := msg.SrcName()

	switch msg.Type {
	case wire.CodeIdentifyMaster:
		if username == "" {
			logger.Warn("IDENTIFY_MASTER without a username dropped", "remote", conn.RemoteAddr().String())
			return true
		}
		addr := remoteAddr(conn)
		resp := s.registry.AddMaster(username, conn, addr)
		if resp == wire.ResponseOK {
			*thisClient = username
			logger.Info("Client identified", "client", username, "remote", conn.RemoteAddr().String())
		} else {
			logger.Warn("Username already taken", "client", username)
		}
		return s.reply(conn, msg.Src, resp)

	case wire.CodeJoinSlave:
		if username == "" {
			return true
		}
		resp := s.registry.AddSlave(username, conn)
		if resp == wire.ResponseOK {
			*thisClient = username
			logger.Debug("Slave joined", "client", username)
		}
		return s.reply(conn, msg.Src, resp)

	case wire.CodeIdentifySlaves:
		if username == "" {
			return true
		}
		resp := s.registry.PromoteSlaves(username)
		if resp == wire.ResponseOK {
			logger.Info("Slave pool confirmed", "client", username)
		}
		return s.reply(conn, msg.Src, resp)
	}

	// Everything past identification requires a registered source.
	if username == "" || !s.registry.IsIdentified(username) {
		logger.Warn("Instruction from unidentified source dropped", "type", msg.Type.String())
		return true
	}

	switch msg.Type {
	case wire.CodeClientList:
		return s.replyList(conn, msg.Src, wire.ResponseOK, s.registry.ClientNames())

	case wire.CodeGroupListGroups:
		return s.replyList(conn, msg.Src, wire.ResponseOK, s.registry.GroupNames())

	case wire.CodeGroupListClients:
		group, err := msg.Text()
		if err != nil {
			return s.replyList(conn, msg.Src, wire.ResponseError, nil)
		}
		members, ok := s.registry.GroupMembers(group)
		if !ok {
			return s.replyList(conn, msg.Src, wire.ResponseError, nil)
		}
		return s.replyList(conn, msg.Src, wire.ResponseOK, members)

	case wire.CodeClientRename:
		// Reserved. Valid requests get NOT_EXIST until renaming lands.
		if _, err := msg.Text(); err != nil {
			return s.reply(conn, msg.Src, wire.ResponseError)
		}
		return s.reply(conn, msg.Src, wire.ResponseNotExist)

	case wire.CodeGroupCreate:
		name, err := msg.Text()
		if err != nil || name == "" {
			return s.reply(conn, msg.Src, wire.ResponseError)
		}
		resp := s.registry.CreateGroup(name)
		if resp == wire.ResponseOK {
			logger.Info("Group created", "group", name, "by", username)
		}
		return s.reply(conn, msg.Src, resp)

	case wire.CodeGroupJoin:
		name, err := msg.Text()
		if err != nil {
			return s.reply(conn, msg.Src, wire.ResponseError)
		}
		resp := s.registry.JoinGroup(username, name)
		if resp == wire.ResponseOK {
			logger.Info("Client joined group", "client", username, "group", name)
		}
		return s.reply(conn, msg.Src, resp)

	case wire.CodeGroupLeave:
		name, err := msg.Text()
		if err != nil {
			return s.reply(conn, msg.Src, wire.ResponseError)
		}
		resp := s.registry.LeaveGroup(username, name)
		if resp == wire.ResponseOK {
			logger.Info("Client left group", "client", username, "group", name)
		}
		return s.reply(conn, msg.Src, resp)

	case wire.CodeGroupLeaveAll:
		resp := s.registry.LeaveAllGroups(username)
		logger.Info("Client left all groups", "client", username)
		return s.reply(conn, msg.Src, resp)

	default:
		logger.Warn("Unknown instruction dropped", "type", msg.Type.String())
		return true
	}
}

// processData routes a data message. The sender is acknowledged after the
// delivery tasks are dispatched, not after they complete; a slow recipient
// therefore never stalls its sender or its co-recipients.
func (s *Server) processData(conn net.Conn, msg *wire.Message) bool {
	kind, recipients := s.registry.Route(msg)

	switch kind {
	case RouteGroup:
		logger.Info("Group broadcast",
			"from", msg.SrcName(), "group", msg.DstGroup(),
			"recipients", len(recipients), "type", msg.Type.String())
		for _, name := range recipients {
			go s.deliver(name, msg)
		}
		s.config.Metrics.RecordRouted(metrics.KindGroup)
		return s.reply(conn, msg.Src, wire.ResponseOK)

	case RoutePrivate:
		logger.Info("Private message",
			"from", msg.SrcName(), "to", msg.DstName(), "type", msg.Type.String())
		go s.deliver(recipients[0], msg)
		s.config.Metrics.RecordRouted(metrics.KindPrivate)
		return s.reply(conn, msg.Src, wire.ResponseOK)

	case RouteLoopback:
		logger.Debug("Loopback rejected", "client", msg.SrcName())
		s.config.Metrics.RecordRejected()
		return s.reply(conn, msg.Src, wire.ResponseError)

	case RouteForbidden:
		// A non-member sending into a group gets no reply, matching the
		// control-flow contract the agents were written against.
		logger.Warn("Group send from non-member dropped",
			"client", msg.SrcName(), "group", msg.DstGroup())
		s.config.Metrics.RecordRejected()
		return true

	default:
		logger.Warn("No such recipient",
			"from", msg.SrcName(), "dst", msg.DstName(), "group", msg.DstGroup())
		s.config.Metrics.RecordRejected()
		return s.reply(conn, msg.Src, wire.ResponseError)
	}
}

// deliver pushes one message to one recipient through its slave pool. Each
// delivery holds exactly one pooled connection for the duration of the write.
func (s *Server) deliver(recipient string, msg *wire.Message) {
	p, ok := s.registry.Pool(recipient)
	if !ok {
		logger.Warn("Recipient has no slave pool", "recipient", recipient)
		s.config.Metrics.RecordDelivery(true)
		return
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	err := p.With(ctx, func(slave net.Conn) error {
		return wire.WriteMessage(slave, msg)
	})
	if err != nil {
		logger.Warn("Delivery failed", "recipient", recipient, "from", msg.SrcName(), "error", err)
		s.config.Metrics.RecordDelivery(true)
		return
	}
	s.config.Metrics.RecordDelivery(false)
}

// remoteAddr extracts the peer's host and port as a wire address.
func remoteAddr(conn net.Conn) *wire.Addr {
	tcp, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return &wire.Addr{Host: tcp.IP.String(), Port: tcp.Port}
}
