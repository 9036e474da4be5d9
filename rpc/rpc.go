// Package rpc implements the outbound, one-shot peer calls: for each call
// the client opens a fresh connection, writes one tagged frame, optionally
// reads one tagged frame back, and closes.
package rpc

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/wire"
)

// ErrPeerUnreachable wraps any dial failure (most commonly connection
// refused), letting callers distinguish "peer is down" from a protocol
// error and proceed to the next peer.
var ErrPeerUnreachable = errors.New("rpc: peer unreachable")

// DialTimeout bounds how long a single outbound call waits to connect.
const DialTimeout = 5 * time.Second

// Client issues outbound RPCs to a single peer address.
type Client struct {
	peer chainmodel.PeerAddr
}

// NewClient returns a client targeting peer.
func NewClient(peer chainmodel.PeerAddr) *Client {
	return &Client{peer: peer}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.peer.String(), DialTimeout)
	if err != nil {
		return nil, errors.Wrapf(ErrPeerUnreachable, "%s: %v", c.peer, err)
	}
	return conn, nil
}

// call writes a single request frame and, unless out is nil, reads and
// decodes exactly one response frame into out.
func (c *Client) call(tag string, payload interface{}, out interface{}) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.Write(conn, tag, payload); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	env, err := wire.Read(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	return env.Decode(out)
}

// AnnounceSelfConfirm sends this node's address under the "node" tag and
// returns the peer's own address from its "confirm" reply, used for a
// direct peer connection.
func (c *Client) AnnounceSelfConfirm(self chainmodel.PeerAddr) (chainmodel.PeerAddr, error) {
	var confirmed chainmodel.PeerAddr
	if err := c.call("node", self.ToList(), &confirmed); err != nil {
		return chainmodel.PeerAddr{}, err
	}
	return confirmed, nil
}

// JoinNetwork sends this node's address under the "network" tag and
// returns the peer list the remote node knows about, plus the peer's own
// address from its trailing "confirm" frame (it replies exactly as the
// "node" handler would, after the node-list frame).
func (c *Client) JoinNetwork(self chainmodel.PeerAddr) ([]chainmodel.PeerAddr, chainmodel.PeerAddr, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, chainmodel.PeerAddr{}, err
	}
	defer conn.Close()

	if err := wire.Write(conn, "network", self.ToList()); err != nil {
		return nil, chainmodel.PeerAddr{}, err
	}
	br := bufio.NewReader(conn)

	listEnv, err := wire.Read(br)
	if err != nil {
		return nil, chainmodel.PeerAddr{}, err
	}
	var nodeList [][2]interface{}
	if err := listEnv.Decode(&nodeList); err != nil {
		return nil, chainmodel.PeerAddr{}, err
	}
	peers := make([]chainmodel.PeerAddr, 0, len(nodeList))
	for _, entry := range nodeList {
		if peer, ok := chainmodel.PeerFromList(entry[:]); ok {
			peers = append(peers, peer)
		}
	}

	confirmEnv, err := wire.Read(br)
	if err != nil {
		return peers, chainmodel.PeerAddr{}, err
	}
	var confirmed chainmodel.PeerAddr
	if err := confirmEnv.Decode(&confirmed); err != nil {
		return peers, chainmodel.PeerAddr{}, err
	}
	return peers, confirmed, nil
}

// Disconnect announces this node's departure under the "disconnect" tag.
func (c *Client) Disconnect(self chainmodel.PeerAddr) error {
	return c.call("disconnect", self.ToList(), new(json.RawMessage))
}

// SendTransaction pushes receipt to the peer's free pool.
func (c *Client) SendTransaction(receipt chainmodel.Receipt) error {
	return c.call("transaction", receipt, new(json.RawMessage))
}

// RequestTransactions asks the peer to push all of its free-pool receipts
// back to this node via its own outbound "transaction" calls.
func (c *Client) RequestTransactions(self chainmodel.PeerAddr) error {
	var ok bool
	return c.call("get transactions", self.ToList(), &ok)
}

// SendBlock gossips a newly accepted package and reports whether the peer
// accepted it.
func (c *Client) SendBlock(pkg chainmodel.Package) (bool, error) {
	var accepted bool
	if err := c.call("new block", pkg, &accepted); err != nil {
		return false, err
	}
	return accepted, nil
}

// ErrIndexOutOfRange is returned by RequestIndexedBlock when the peer
// reports it does not have a block at the requested index.
var ErrIndexOutOfRange = errors.New("rpc: peer reports index out of range")

// RequestIndexedBlock asks the peer for the package at chain index n.
func (c *Client) RequestIndexedBlock(n int64) (chainmodel.Package, error) {
	conn, err := c.dial()
	if err != nil {
		return chainmodel.Package{}, err
	}
	defer conn.Close()

	if err := wire.Write(conn, "indexed block", n); err != nil {
		return chainmodel.Package{}, err
	}
	env, err := wire.Read(bufio.NewReader(conn))
	if err != nil {
		return chainmodel.Package{}, err
	}
	if env.Tag == "index error" {
		return chainmodel.Package{}, ErrIndexOutOfRange
	}
	var pkg chainmodel.Package
	if err := env.Decode(&pkg); err != nil {
		return chainmodel.Package{}, err
	}
	return pkg, nil
}

// PeerStatus is the wire form of a node's consensus status.
type PeerStatus struct {
	Index int64  `json:"INDEX"`
	Hash  string `json:"HASH"`
	Time  string `json:"TIME"`
}

// SendStatus announces self's status and returns the peer's own
// (address, status) pair in reply.
func (c *Client) SendStatus(self chainmodel.PeerAddr, status PeerStatus) (chainmodel.PeerAddr, PeerStatus, error) {
	var reply [2]json.RawMessage
	payload := []interface{}{self.ToList(), status}
	if err := c.call("status", payload, &reply); err != nil {
		return chainmodel.PeerAddr{}, PeerStatus{}, err
	}

	var peer chainmodel.PeerAddr
	if err := json.Unmarshal(reply[0], &peer); err != nil {
		return chainmodel.PeerAddr{}, PeerStatus{}, errors.Wrap(err, "rpc: decode status peer address")
	}
	var peerStatus PeerStatus
	if err := json.Unmarshal(reply[1], &peerStatus); err != nil {
		return chainmodel.PeerAddr{}, PeerStatus{}, errors.Wrap(err, "rpc: decode status payload")
	}
	return peer, peerStatus, nil
}

// HashMatch asks the peer for the longest common hashlist prefix index
// against localHashlist.
func (c *Client) HashMatch(localHashlist []string) (int, error) {
	var matchIndex int
	if err := c.call("hashmatch", localHashlist, &matchIndex); err != nil {
		return 0, err
	}
	return matchIndex, nil
}
