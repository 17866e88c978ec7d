package wsignal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/signaling"
)

var _ signaling.Transport = (*Client)(nil)

// Relay forwards frames between connected peers. It keeps no call state:
// frames for peers that are not connected are dropped.
type Relay struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[signaling.PeerID]*relayConn
}

type relayConn struct {
	peer signaling.PeerID
	conn *websocket.Conn
	send chan []byte

	once sync.Once
}

func (rc *relayConn) close() {
	rc.once.Do(func() {
		close(rc.send)
		_ = rc.conn.Close()
	})
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: make(map[signaling.PeerID]*relayConn),
	}
}

// Peers returns the number of connected peers.
func (r *Relay) Peers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
// A second connection for the same peer replaces the first.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	peer := signaling.PeerID(req.URL.Query().Get(PeerParam))
	if err := validatePeer(peer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServeHTTP",
			"peer":     peer,
			"error":    err.Error(),
		}).Warn("Websocket upgrade failed")
		return
	}
	ws.SetReadLimit(MaxFrameSize)

	rc := &relayConn{peer: peer, conn: ws, send: make(chan []byte, sendQueue)}

	r.mu.Lock()
	old := r.peers[peer]
	r.peers[peer] = rc
	r.mu.Unlock()
	if old != nil {
		old.close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "ServeHTTP",
		"peer":     peer,
		"replaced": old != nil,
	}).Info("Peer connected")

	go r.writePump(rc)
	r.readPump(rc)
}

func (r *Relay) readPump(rc *relayConn) {
	defer func() {
		r.mu.Lock()
		if r.peers[rc.peer] == rc {
			delete(r.peers, rc.peer)
		}
		r.mu.Unlock()
		rc.close()

		logrus.WithFields(logrus.Fields{
			"function": "readPump",
			"peer":     rc.peer,
		}).Info("Peer disconnected")
	}()

	_ = rc.conn.SetReadDeadline(time.Now().Add(pongWait))
	rc.conn.SetPongHandler(func(string) error {
		return rc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := rc.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		r.forward(rc.peer, data)
	}
}

// forward rewrites the frame's peer id from recipient to sender and queues
// it on the recipient's connection.
func (r *Relay) forward(from signaling.PeerID, frame []byte) {
	to, payload, err := decodeFrame(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "forward",
			"from":     from,
			"error":    err.Error(),
		}).Warn("Dropping malformed frame")
		return
	}
	out, err := encodeFrame(from, payload)
	if err != nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	dest, ok := r.peers[to]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "forward",
			"from":     from,
			"to":       to,
		}).Debug("Recipient not connected")
		return
	}
	select {
	case dest.send <- out:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "forward",
			"from":     from,
			"to":       to,
		}).Warn("Recipient queue full, dropping frame")
	}
}

// writePump only closes the socket on failure. The send queue is closed by
// whoever removes rc from the peer table.
func (r *Relay) writePump(rc *relayConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-rc.send:
			if !ok {
				return
			}
			_ = rc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := rc.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				_ = rc.conn.Close()
				return
			}
		case <-ticker.C:
			_ = rc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := rc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = rc.conn.Close()
				return
			}
		}
	}
}
