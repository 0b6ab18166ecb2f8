package server

import (
	"net/http"

	"queue-sync/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop. Views are full states, so a burst of
// changes is coalesced into one push of the latest view.
func (s *APIServer) handleWebsockets() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.setClientCount(len(s.clients))

			s.stateMutex.RLock()
			initial := viewMessage{Type: frameInitial, View: s.latestView}
			s.stateMutex.RUnlock()
			client.send <- initial

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				s.setClientCount(len(s.clients))
			}

		case client := <-s.resend:
			if _, ok := s.clients[client]; !ok {
				continue
			}
			s.stateMutex.RLock()
			initial := viewMessage{Type: frameInitial, View: s.latestView}
			s.stateMutex.RUnlock()
			select {
			case client.send <- initial:
			default:
			}

		case <-s.notify:
			s.stateMutex.RLock()
			update := viewMessage{Type: frameUpdate, View: s.latestView}
			s.stateMutex.RUnlock()

			for client := range s.clients {
				select {
				case client.send <- update:
				default:
					// Client too slow, drop it so the hub never blocks
					delete(s.clients, client)
					close(client.send)
					s.Logger.Warning("Dropping slow UI socket")
				}
			}
			s.setClientCount(len(s.clients))

		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.setClientCount(0)
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) setClientCount(n int) {
	s.stateMutex.Lock()
	s.clientCount = n
	s.stateMutex.Unlock()
	if s.metrics != nil {
		s.metrics.ViewSubscribers.Set(float64(n))
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast records the latest view and wakes the hub. It never blocks, so
// it is safe to call from store watchers.
func (s *APIServer) Broadcast(view models.MSessionView) {
	s.stateMutex.Lock()
	if view.Version < s.latestView.Version {
		s.stateMutex.Unlock()
		return
	}
	s.latestView = view
	s.stateMutex.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := newClient(s, conn)

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.pushViews()
	go client.readCommands()
}
