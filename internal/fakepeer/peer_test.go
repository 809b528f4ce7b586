package fakepeer

import (
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/litesync/litesync.go/internal/codec"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/litesync/litesync.go/pkg/replicator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	t     *testing.T
	conn  *gorilla.Conn
	codec *codec.CBOR
}

func dial(t *testing.T, p *Peer) *client {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(p.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, codec: codec.NewCBOR()}
}

func (c *client) send(f replicator.Frame) {
	data, err := c.codec.Marshal(f)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(gorilla.BinaryMessage, data))
}

func (c *client) recv() replicator.Frame {
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var f replicator.Frame
	require.NoError(c.t, c.codec.Unmarshal(data, &f))
	return f
}

func doc(id, rev, parent string, gen uint64, body map[string]any) *models.Document {
	return &models.Document{Collection: "_default", ID: id, RevID: rev, ParentRevID: parent, Generation: gen, Body: body}
}

func startPeer(t *testing.T) *Peer {
	t.Helper()
	p := New("127.0.0.1:0")
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestPeerSendsSnapshotThenCaughtUp(t *testing.T) {
	p := startPeer(t)
	p.Put(doc("b", "1-b", "", 1, map[string]any{"n": 2}))
	p.Put(doc("a", "1-a", "", 1, map[string]any{"n": 1}))
	p.Put(&models.Document{Collection: "other", ID: "x", RevID: "1-x", Generation: 1})

	c := dial(t, p)
	c.send(replicator.Frame{Type: replicator.FrameHello, Collections: []string{"_default"}, Pull: true})

	first, second := c.recv(), c.recv()
	require.NotNil(t, first.Doc)
	require.NotNil(t, second.Doc)
	assert.Equal(t, "a", first.Doc.ID)
	assert.Equal(t, "b", second.Doc.ID)
	assert.Equal(t, int64(1), first.Doc.Body["n"])
	assert.Equal(t, replicator.FrameCaughtUp, c.recv().Type)
}

func TestPeerAcceptsDescendantsOnly(t *testing.T) {
	p := startPeer(t)
	c := dial(t, p)
	c.send(replicator.Frame{Type: replicator.FrameHello, Collections: []string{"_default"}})

	c.send(replicator.Frame{Type: replicator.FrameRev, Doc: doc("a", "1-a", "", 1, nil)})
	ack := c.recv()
	assert.Equal(t, replicator.FrameAck, ack.Type)
	assert.Empty(t, ack.Error)

	c.send(replicator.Frame{Type: replicator.FrameRev, Doc: doc("a", "2-a", "1-a", 2, nil)})
	assert.Empty(t, c.recv().Error)
	assert.Equal(t, "2-a", p.Doc("_default", "a").RevID)

	c.send(replicator.Frame{Type: replicator.FrameRev, Doc: doc("a", "2-z", "1-a", 2, nil)})
	ack = c.recv()
	assert.Equal(t, "conflict", ack.Error)
	assert.Equal(t, "2-z", ack.RevID)

	current := c.recv()
	assert.Equal(t, replicator.FrameRev, current.Type)
	assert.Equal(t, "2-a", current.Doc.RevID)
}

func TestPeerAcceptsRevisionWithSkippedAncestors(t *testing.T) {
	p := startPeer(t)
	p.Put(doc("a", "1-a", "", 1, nil))
	c := dial(t, p)
	c.send(replicator.Frame{Type: replicator.FrameHello, Collections: []string{"_default"}})

	offline := doc("a", "3-c", "2-b", 3, map[string]any{"v": 3})
	offline.History = []string{"2-b", "1-a"}
	c.send(replicator.Frame{Type: replicator.FrameRev, Doc: offline})
	assert.Empty(t, c.recv().Error)
	assert.Equal(t, "3-c", p.Doc("_default", "a").RevID)

	// an ancestor of the current revision is already known
	c.send(replicator.Frame{Type: replicator.FrameRev, Doc: doc("a", "2-b", "1-a", 2, nil)})
	ack := c.recv()
	assert.Empty(t, ack.Error)
	assert.Equal(t, "3-c", p.Doc("_default", "a").RevID)
}

func TestPeerBroadcastsToContinuousPullers(t *testing.T) {
	p := startPeer(t)
	puller := dial(t, p)
	puller.send(replicator.Frame{Type: replicator.FrameHello, Collections: []string{"_default"}, Pull: true, Continuous: true})
	assert.Equal(t, replicator.FrameCaughtUp, puller.recv().Type)

	pusher := dial(t, p)
	pusher.send(replicator.Frame{Type: replicator.FrameHello, Collections: []string{"_default"}})
	pusher.send(replicator.Frame{Type: replicator.FrameRev, Doc: doc("a", "1-a", "", 1, nil)})
	assert.Empty(t, pusher.recv().Error)

	got := puller.recv()
	require.NotNil(t, got.Doc)
	assert.Equal(t, "1-a", got.Doc.RevID)
}

func TestPeerReject(t *testing.T) {
	p := startPeer(t)
	p.Reject("read only")
	c := dial(t, p)
	c.send(replicator.Frame{Type: replicator.FrameHello, Collections: []string{"_default"}})
	c.send(replicator.Frame{Type: replicator.FrameRev, Doc: doc("a", "1-a", "", 1, nil)})
	assert.Equal(t, "read only", c.recv().Error)
	assert.Nil(t, p.Doc("_default", "a"))
}
