package main

import (
	"context"
	"net"
	"net/http"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/hubs"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Returns the handler that upgrades requests into persistent
// connections where every frame carries one operation.
func wsHandler(hub *hubs.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.IP("websocket upgrade failed", r.RemoteAddr)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		addr, _ := net.ResolveTCPAddr("tcp", r.RemoteAddr)
		cl := hub.Attach(addr, cancel)
		defer hub.Detach(cl)

		log.Connection(r.RemoteAddr, false)
		defer log.Connection(r.RemoteAddr, true)

		listenFrames(ctx, hub, conn, r.RemoteAddr)
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// Reads frames until the connection closes, answering each one
// before reading the next so that replies keep their order.
func listenFrames(ctx context.Context, hub *hubs.Hub, conn *websocket.Conn, ip string) {
	for {
		var frame spec.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Read("frame", ip, err)
			}
			return
		}

		// Frames without an id still get a reply they can be told apart by
		if frame.ID == "" {
			frame.ID = uuid.NewString()
		}

		op := spec.StringToCode(frame.Op)
		reply := hubs.Process(ctx, hub, hubs.Request{
			Op:    op,
			Token: frame.Token,
			Body:  frame.Body,
			Addr:  ip,
		})
		log.Request(ip, op, reply.Status)

		out := spec.FrameReply{
			ID:     frame.ID,
			Status: reply.Status,
			Body:   reply.Body,
		}
		if reply.Err != nil {
			out.Body = nil
			out.Error = reply.Err.Error()
		}

		if err := wsjson.Write(ctx, conn, out); err != nil {
			log.Read("frame reply", ip, err)
			return
		}
	}
}
