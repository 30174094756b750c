package server

import (
	"log/slog"

	"github.com/NicolasHaas/roomchat/pkg/mail"
	"github.com/NicolasHaas/roomchat/pkg/model"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
)

// broadcast delivers ev to every authenticated session in room. A peer whose
// send fails is evicted, which in turn announces its departure.
func (s *Server) broadcast(room string, ev *pb.Event) {
	for _, peer := range s.registry.Members(room) {
		if err := peer.Send(ev); err != nil {
			s.evict(peer, err)
		}
	}
}

// evict removes a peer that could not be written to and closes its
// connection so its worker exits.
func (s *Server) evict(peer *Session, cause error) {
	peer.log().Warn("evicting unreachable peer", "err", cause)
	s.metrics.Evictions.Add(1)
	_ = peer.Close()
	s.removeSession(peer)
}

// relayMessage sends a chat line to the occupants of its room, sender
// included.
func (s *Server) relayMessage(msg model.ChatMessage) {
	ev, err := pb.NewEvent(pb.EventMessage, &pb.MessageEvent{
		Message:  msg.Body,
		Username: msg.Username,
		Name:     msg.Name,
		Room:     msg.Room,
	})
	if err != nil {
		slog.Error("encode message event", "err", err)
		return
	}
	s.broadcast(msg.Room, ev)
	s.metrics.ChatMessagesSent.Add(1)
}

// notifyPresence announces that sess moved from prev to room. An empty prev
// means it had no room; an empty room means it left the server. The old
// room hears a "left" event and the new room, sess included, a "joined"
// event. Each carries the recomputed occupants of the room it is sent to.
func (s *Server) notifyPresence(sess *Session, prev, room string) {
	username := sess.Username()

	if prev != "" && prev != room {
		s.sendPresence(prev, &pb.PresenceEvent{
			Room:         optional(room),
			PreviousRoom: optional(prev),
			Username:     username,
			Occupants:    s.registry.Occupants(prev),
		})
	}
	if room != "" {
		s.sendPresence(room, &pb.PresenceEvent{
			Room:         optional(room),
			PreviousRoom: optional(prev),
			Username:     username,
			Occupants:    s.registry.Occupants(room),
		})
	}
}

func (s *Server) sendPresence(room string, data *pb.PresenceEvent) {
	ev, err := pb.NewEvent(pb.EventClientEntered, data)
	if err != nil {
		slog.Error("encode presence event", "err", err)
		return
	}
	s.broadcast(room, ev)
	s.metrics.PresenceEvents.Add(1)
}

func optional(room string) *string {
	if room == "" {
		return nil
	}
	return &room
}

func logEmailFailure(msg mail.Message, err error) {
	slog.Error("validation email failed", "to", msg.To, "err", err)
}
