// Package fakepeer provides an in-process sync peer for testing replicators.
// It speaks the replicator's CBOR frame protocol over WebSocket and keeps one
// revision per document, rejecting pushes that do not descend from it.
//
// The WebSocket server is implemented using the `gws` library.
package fakepeer

import (
	"context"
	"errors"
	"log"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/litesync/litesync.go/internal/codec"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/litesync/litesync.go/pkg/replicator"
	"github.com/lxzan/gws"
)

type docKey struct {
	collection string
	id         string
}

// subscription is what a connected client asked for in its hello frame.
type subscription struct {
	collections map[string]bool
	pull        bool
	continuous  bool
}

// Peer is a fake sync peer. Use "127.0.0.1:0" to bind to a random port.
type Peer struct {
	addr     string
	listener net.Listener
	server   *gws.Server
	codec    *codec.CBOR

	mu    sync.Mutex
	docs  map[docKey]*models.Document
	conns map[*gws.Conn]*subscription
	// when set, every push is refused with this message
	reject string
}

type handler struct {
	peer *Peer
}

func New(addr string) *Peer {
	p := &Peer{
		addr:  addr,
		codec: codec.NewCBOR(),
		docs:  make(map[docKey]*models.Document),
		conns: make(map[*gws.Conn]*subscription),
	}
	p.server = gws.NewServer(&handler{peer: p}, &gws.ServerOption{})
	p.server.OnError = func(_ net.Conn, err error) {
		if !isClosed(err) {
			log.Printf("fakepeer: %v", err)
		}
	}
	return p
}

func (p *Peer) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", p.addr)
	if err != nil {
		return err
	}
	p.listener = listener

	go func() {
		if err := p.server.RunListener(listener); err != nil && !isClosed(err) {
			log.Printf("fakepeer: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener and every connection.
func (p *Peer) Stop() error {
	p.DropConnections()
	if p.listener != nil {
		return p.listener.Close()
	}
	return nil
}

// URL is the endpoint replicators dial.
func (p *Peer) URL() string {
	addr := p.addr
	if p.listener != nil {
		addr = p.listener.Addr().String()
	}
	return "ws://" + addr + "/sync"
}

// DropConnections closes the network connection of every client without a
// close handshake.
func (p *Peer) DropConnections() {
	p.mu.Lock()
	conns := make([]*gws.Conn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.NetConn().Close()
	}
}

// Reject makes the peer refuse every push with msg. An empty msg restores
// normal behaviour.
func (p *Peer) Reject(msg string) {
	p.mu.Lock()
	p.reject = msg
	p.mu.Unlock()
}

// Put stores doc on the peer as if written there, and sends it to continuous
// pullers.
func (p *Peer) Put(doc *models.Document) {
	doc = doc.Clone()
	p.mu.Lock()
	p.docs[docKey{doc.Collection, doc.ID}] = doc
	p.mu.Unlock()
	p.broadcast(nil, doc)
}

// Doc returns the peer's revision of a document, or nil.
func (p *Peer) Doc(collection, id string) *models.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.docs[docKey{collection, id}]; ok {
		return d.Clone()
	}
	return nil
}

// Connections reports the connected clients.
func (p *Peer) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// RemoveAccess tells pulling clients they may no longer see the document.
func (p *Peer) RemoveAccess(collection, id string) {
	p.mu.Lock()
	var targets []*gws.Conn
	for c, sub := range p.conns {
		if sub.pull && sub.collections[collection] {
			targets = append(targets, c)
		}
	}
	p.mu.Unlock()

	for _, c := range targets {
		p.write(c, replicator.Frame{Type: replicator.FrameRemoved, Collection: collection, ID: id})
	}
}

func (p *Peer) broadcast(from *gws.Conn, doc *models.Document) {
	p.mu.Lock()
	var targets []*gws.Conn
	for c, sub := range p.conns {
		if c != from && sub.pull && sub.continuous && sub.collections[doc.Collection] {
			targets = append(targets, c)
		}
	}
	p.mu.Unlock()

	for _, c := range targets {
		p.write(c, replicator.Frame{Type: replicator.FrameRev, Doc: doc})
	}
}

func (p *Peer) write(socket *gws.Conn, f replicator.Frame) {
	data, err := p.codec.Marshal(f)
	if err != nil {
		log.Printf("fakepeer: encoding %s frame: %v", f.Type, err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil && !isClosed(err) {
		log.Printf("fakepeer: writing %s frame: %v", f.Type, err)
	}
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.peer.mu.Lock()
	h.peer.conns[socket] = &subscription{collections: map[string]bool{}}
	h.peer.mu.Unlock()
}

func (h *handler) OnClose(socket *gws.Conn, err error) {
	h.peer.mu.Lock()
	delete(h.peer.conns, socket)
	h.peer.mu.Unlock()
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakepeer: writing pong: %v", err)
	}
}

func (h *handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var f replicator.Frame
	if err := h.peer.codec.NewDecoder(message.Data).Decode(&f); err != nil {
		log.Printf("fakepeer: decoding frame: %v", err)
		return
	}

	switch f.Type {
	case replicator.FrameHello:
		h.hello(socket, f)
	case replicator.FrameRev:
		if f.Doc != nil {
			h.rev(socket, f.Doc)
		}
	default:
		log.Printf("fakepeer: unexpected %q frame", f.Type)
	}
}

func (h *handler) hello(socket *gws.Conn, f replicator.Frame) {
	p := h.peer
	sub := &subscription{
		collections: make(map[string]bool, len(f.Collections)),
		pull:        f.Pull,
		continuous:  f.Continuous,
	}
	for _, c := range f.Collections {
		sub.collections[c] = true
	}

	p.mu.Lock()
	p.conns[socket] = sub
	var docs []*models.Document
	if sub.pull {
		for k, d := range p.docs {
			if sub.collections[k.collection] {
				docs = append(docs, d.Clone())
			}
		}
	}
	p.mu.Unlock()

	if !sub.pull {
		return
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Collection != docs[j].Collection {
			return docs[i].Collection < docs[j].Collection
		}
		return docs[i].ID < docs[j].ID
	})
	for _, d := range docs {
		p.write(socket, replicator.Frame{Type: replicator.FrameRev, Doc: d})
	}
	p.write(socket, replicator.Frame{Type: replicator.FrameCaughtUp})
}

// rev accepts a pushed revision when it is new or descends from the peer's
// current one. A revision the peer has already superseded is acknowledged
// without being stored. Otherwise the push is refused and the current revision is sent
// back so the client can resolve.
func (h *handler) rev(socket *gws.Conn, doc *models.Document) {
	p := h.peer
	key := docKey{doc.Collection, doc.ID}
	ack := replicator.Frame{Type: replicator.FrameAck, Collection: doc.Collection, ID: doc.ID, RevID: doc.RevID}

	p.mu.Lock()
	current := p.docs[key]
	accepted := false
	switch {
	case p.reject != "":
		ack.Error = p.reject
	case current == nil, doc.DescendsFrom(current.RevID):
		p.docs[key] = doc
		accepted = true
	case current.RevID == doc.RevID, current.DescendsFrom(doc.RevID):
	default:
		ack.Error = "conflict"
	}
	p.mu.Unlock()

	p.write(socket, ack)
	switch {
	case accepted:
		p.broadcast(socket, doc)
	case ack.Error == "conflict":
		p.write(socket, replicator.Frame{Type: replicator.FrameRev, Doc: current.Clone()})
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}
