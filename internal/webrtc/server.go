package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/codescan/internal/logger"
)

var log = logger.For("WebRTC")

const (
	// PreviewChannel is the data channel label browsers open for the preview.
	PreviewChannel = "preview"

	// chunkSize keeps every SCTP message well below common browser limits.
	chunkSize = 16 * 1024
)

// FrameHeader announces a JPEG frame; Chunks binary messages follow it.
type FrameHeader struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Size   int    `json:"size"`
	Chunks int    `json:"chunks"`
}

type message struct {
	text   []byte   // Sent as a text message when set
	header []byte   // Frame header (text) followed by chunks
	chunks [][]byte // Binary frame chunks
}

// Client represents a connected preview client
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	channel       atomic.Pointer[webrtc.DataChannel]
	msgChan       chan message
	closeChan     chan struct{}
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

// Server manages WebRTC preview connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
}

// NewServer creates a preview server
func NewServer(stunServers []string, maxClients int) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer.
// The offer must carry a data channel labelled PreviewChannel.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("invalid offer")
	}

	s.clientsMu.RLock()
	numClients := len(s.clients)
	s.clientsMu.RUnlock()

	if numClients >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        "client-" + uuid.NewString()[:8],
		peerConn:  peerConn,
		msgChan:   make(chan message, 8),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != PreviewChannel {
			log.Debug("Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.channel.Store(dc)
			log.Info("Client %s preview channel open", client.id)
		})
		dc.OnClose(func() {
			s.RemoveClient(client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			log.Info("Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	go s.sendMessages(client)

	log.Info("Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}
	return json.Marshal(localDesc)
}

// SendFrame queues a JPEG frame for every client with an open channel (non-blocking).
func (s *Server) SendFrame(jpegData []byte, seq uint64) {
	if len(jpegData) == 0 {
		return
	}
	header, chunks := splitFrame(jpegData, seq)
	s.enqueue(message{header: header, chunks: chunks}, true)
}

// SendEvent queues a JSON event for every client.
func (s *Server) SendEvent(eventJSON []byte) {
	s.enqueue(message{text: eventJSON}, false)
}

func (s *Server) enqueue(msg message, isFrame bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if client.channel.Load() == nil {
			continue
		}
		select {
		case client.msgChan <- msg:
			if isFrame {
				client.framesSent.Add(1)
			}
		default:
			if isFrame {
				client.framesDropped.Add(1)
			}
		}
	}
}

func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case msg := <-client.msgChan:
			dc := client.channel.Load()
			if dc == nil {
				continue
			}
			if err := send(dc, msg); err != nil {
				log.Warn("Error sending to client %s: %v", client.id, err)
				go s.RemoveClient(client.id)
				return
			}
		}
	}
}

func send(dc *webrtc.DataChannel, msg message) error {
	if msg.text != nil {
		return dc.SendText(string(msg.text))
	}
	if err := dc.SendText(string(msg.header)); err != nil {
		return err
	}
	for _, c := range msg.chunks {
		if err := dc.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// splitFrame returns the frame header and the binary chunks of data.
func splitFrame(data []byte, seq uint64) ([]byte, [][]byte) {
	var chunks [][]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	header, _ := json.Marshal(FrameHeader{
		Type:   "frame",
		Seq:    seq,
		Size:   len(data),
		Chunks: len(chunks),
	})
	return header, chunks
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	close(client.closeChan)
	client.peerConn.Close()

	log.Info("Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.framesSent.Load(), client.framesDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"frames_sent":    client.framesSent.Load(),
			"frames_dropped": client.framesDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
