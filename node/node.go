// Package node implements the single-actor node runtime: one process
// owning a chain, a ledger, two transaction pools, a peer list, and a
// peer status map, all guarded by one coarse lock, with a listener
// goroutine and an optional miner goroutine calling back into exported
// methods rather than touching state directly.
package node

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/powmesh/node/chain"
	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/consensus"
	"github.com/powmesh/node/dispatcher"
	"github.com/powmesh/node/internal/config"
	"github.com/powmesh/node/internal/logging"
	"github.com/powmesh/node/ledger"
	"github.com/powmesh/node/miner"
	"github.com/powmesh/node/pool"
	"github.com/powmesh/node/rpc"
	"github.com/powmesh/node/wallet"
)

var log = logging.New("node")

// Status is a node's self-reported chain position, broadcast to peers
// under the "status" tag.
type Status = rpc.PeerStatus

// Node is the single-owner actor: every field below is read or written
// only while holding mu, except that the chain, which has its own lock,
// is also called without mu by the indexed-block and hashmatch handlers
// and by consensus catch-up in AchieveConsensus.
type Node struct {
	cfg    config.Config
	wallet *wallet.Wallet

	mu        sync.Mutex
	chain     *chain.Chain
	freePool  *pool.Pool
	firmPool  *pool.Pool
	self      chainmodel.PeerAddr
	peers     []chainmodel.PeerAddr
	statuses  consensus.StatusMap
	listener  *dispatcher.Listener
	listening bool
	mining    bool
	minerStop context.CancelFunc
	minerDone chan struct{}
	group     *errgroup.Group
	groupDone chan struct{}
}

// New constructs a node with a fresh wallet, an empty chain at cfg's
// difficulty, and empty pools. The listener is not started; call
// StartListener.
func New(cfg config.Config) (*Node, error) {
	w, err := wallet.New()
	if err != nil {
		return nil, err
	}
	return &Node{
		cfg:      cfg,
		wallet:   w,
		chain:    chain.New(cfg.MiningDifficulty),
		freePool: pool.New(),
		firmPool: pool.New(),
		statuses: consensus.StatusMap{},
	}, nil
}

// Address returns this node's wallet address.
func (n *Node) Address() chainmodel.Address {
	return n.wallet.Address()
}

// Self returns the (host, port) this node currently advertises to peers.
// It is only meaningful once the listener has started.
func (n *Node) Self() chainmodel.PeerAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.self
}

// Status returns this node's current chain-position status.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusLocked()
}

func (n *Node) statusLocked() Status {
	last, ok := n.chain.Last()
	if !ok {
		return Status{Index: -1, Hash: "", Time: maxTimestamp}
	}
	return Status{Index: last.Data.Index, Hash: last.Data.BlockHash, Time: last.Data.Timestamp}
}

// maxTimestamp stands in for datetime.max.isoformat(): a timestamp that
// sorts after every real block timestamp, so an empty chain never wins a
// consensus tie-break against a peer with real blocks.
const maxTimestamp = "9999-12-31T23:59:59.999999999Z"

// Chain returns a snapshot of the accepted blocks.
func (n *Node) Chain() []chainmodel.Package {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.Packages()
}

// LastBlock returns the most recently accepted package, if any.
func (n *Node) LastBlock() (chainmodel.Package, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.Last()
}

// Pools returns snapshots of the free and firm pools, in that order.
func (n *Node) Pools() (free, firm []chainmodel.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.freePool.Snapshot(), n.firmPool.Snapshot()
}

// Ledger returns a snapshot of the address-to-balance map.
func (n *Node) Ledger() map[chainmodel.Address]int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.Ledger().Snapshot()
}

// Peers returns a snapshot of the connected peer list.
func (n *Node) Peers() []chainmodel.PeerAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]chainmodel.PeerAddr, len(n.peers))
	copy(out, n.peers)
	return out
}

// IsListening reports whether the event listener is currently running.
func (n *Node) IsListening() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listening
}

// IsMining reports whether the miner loop is currently running.
func (n *Node) IsMining() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mining
}

// StartListener binds the event listener at the first free port starting
// at cfg.Port, incrementing on collision, and begins accepting
// connections. Starting an already-running listener is a no-op.
func (n *Node) StartListener() error {
	n.mu.Lock()
	if n.listening {
		n.mu.Unlock()
		log.Info("listener already running")
		return nil
	}
	n.mu.Unlock()

	ln, err := dispatcher.Bind(n.cfg.Host, n.cfg.Port, n.handlers())
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.listener = ln
	n.self = chainmodel.PeerAddr{Host: advertiseHost(n.cfg.Host), Port: ln.Port()}
	n.listening = true
	n.statuses[n.self] = n.statusLocked()
	group, _ := errgroup.WithContext(context.Background())
	n.group = group
	done := make(chan struct{})
	n.groupDone = done
	n.mu.Unlock()

	group.Go(func() error {
		ln.Serve(group, done)
		return nil
	})

	log.Info("listener started", "addr", n.self)
	return nil
}

// StopListener stops the miner if running, stops accepting connections,
// broadcasts disconnect to every peer, and blocks until the accept loop
// and every in-flight handler have returned.
func (n *Node) StopListener() {
	n.mu.Lock()
	if !n.listening {
		n.mu.Unlock()
		log.Info("listener not running")
		return
	}
	if n.mining {
		n.mu.Unlock()
		n.StopMiner()
		n.mu.Lock()
	}
	ln := n.listener
	group := n.group
	done := n.groupDone
	n.mu.Unlock()

	close(done)
	ln.Close()

	n.DisconnectFromNetwork()

	group.Wait()

	n.mu.Lock()
	n.listening = false
	n.listener = nil
	n.mu.Unlock()
	log.Info("listener stopped")
}

// StartMiner begins the mining loop in its own goroutine. The listener
// must already be running, since a mined block is broadcast to peers.
// Starting an already-running miner is a no-op.
func (n *Node) StartMiner() {
	n.mu.Lock()
	if !n.listening {
		n.mu.Unlock()
		log.Warn("cannot start miner: listener not running")
		return
	}
	if n.mining {
		n.mu.Unlock()
		log.Info("miner already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.mining = true
	n.minerStop = cancel
	done := make(chan struct{})
	n.minerDone = done
	n.mu.Unlock()

	go func() {
		defer close(done)
		n.mineLoop(ctx)
	}()
	log.Info("miner started")
}

// StopMiner signals the miner to stop and blocks until it has exited.
func (n *Node) StopMiner() {
	n.mu.Lock()
	if !n.mining {
		n.mu.Unlock()
		log.Info("miner not running")
		return
	}
	cancel := n.minerStop
	done := n.minerDone
	n.mu.Unlock()

	cancel()
	<-done
	log.Info("miner stopped")
}

// mineLoop prepares, mines, and accepts blocks in a cycle until ctx is cancelled.
func (n *Node) mineLoop(ctx context.Context) {
	for {
		block, ok := n.prepareBlock()
		if !ok {
			n.setMiningFalse()
			return
		}

		result := miner.Mine(ctx, block, n.cfg.MiningDifficulty)
		if result.Proof == "" {
			n.abandonBlock()
			n.setMiningFalse()
			return
		}

		n.acceptMinedBlock(result.Block, result.Proof)

		select {
		case <-ctx.Done():
			n.setMiningFalse()
			return
		default:
		}
	}
}

func (n *Node) setMiningFalse() {
	n.mu.Lock()
	n.mining = false
	n.mu.Unlock()
}

// prepareBlock builds the candidate block for the next mining attempt:
// coinbase receipt prepended to the free pool, free pool validated into a
// firm pool and cleared, new block constructed atop the current head.
func (n *Node) prepareBlock() (*chainmodel.Block, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	coinbase := chainmodel.NewTransaction(chainmodel.MineAddress, n.wallet.Address(), n.cfg.MiningReward)
	signature := coinbase.Sign(n.wallet.Secret())
	n.freePool.Prepend(coinbase.Receipt(signature))

	snapshot := n.chain.Ledger().Snapshot()
	firm := ledger.ValidateBatch(snapshot, n.freePool.Snapshot())
	n.firmPool.Replace(firm)
	n.freePool.Clear()

	var block *chainmodel.Block
	if last, ok := n.chain.Last(); ok {
		block = chainmodel.NewBlock(last.Data.Index+1, last.Data.BlockHash, firm, n.self)
	} else {
		block = chainmodel.NewBlock(0, "", firm, n.self)
	}
	return block, true
}

// abandonBlock returns an interrupted mining attempt's firm transactions
// (minus the coinbase, which is dropped) to the free pool.
func (n *Node) abandonBlock() {
	n.mu.Lock()
	defer n.mu.Unlock()

	firm := n.firmPool.Snapshot()
	if len(firm) > 0 {
		firm = firm[1:] // drop the coinbase receipt
	}
	for _, r := range firm {
		n.freePool.Add(r)
	}
	n.firmPool.Clear()
	log.Info("mining interrupted; returned transactions to free pool", "count", len(firm))
}

// acceptMinedBlock accepts a locally mined block, clears the firm pool,
// and gossips the new package and status to the network.
func (n *Node) acceptMinedBlock(block *chainmodel.Block, proof string) {
	n.mu.Lock()
	err := n.chain.AddBlock(block, proof)
	if err != nil {
		n.mu.Unlock()
		log.Error("locally mined block rejected by own chain", "err", err)
		return
	}
	n.firmPool.Clear()
	n.statuses[n.self] = n.statusLocked()
	pkg, _ := n.chain.Last()
	peers := append([]chainmodel.PeerAddr(nil), n.peers...)
	n.mu.Unlock()

	log.Info("mined block accepted", "index", pkg.Data.Index, "hash", pkg.Data.BlockHash)
	n.broadcastBlock(peers, pkg)
	n.broadcastStatus(peers)
}

// GenerateTestTransaction builds and submits a small transfer from this
// node's wallet to a freshly generated throwaway wallet, for exercising
// the pool/gossip path without an external client.
func (n *Node) GenerateTestTransaction(amount int64) (chainmodel.Receipt, error) {
	target, err := wallet.New()
	if err != nil {
		return chainmodel.Receipt{}, err
	}
	receipt := n.wallet.Send(target.Address(), amount)

	n.mu.Lock()
	n.freePool.Add(receipt)
	peers := append([]chainmodel.PeerAddr(nil), n.peers...)
	n.mu.Unlock()

	for _, peer := range peers {
		if err := rpc.NewClient(peer).SendTransaction(receipt); err != nil {
			log.Warn("transaction gossip failed", "peer", peer, "err", err)
		}
	}
	return receipt, nil
}

func (n *Node) broadcastBlock(peers []chainmodel.PeerAddr, pkg chainmodel.Package) {
	for _, peer := range peers {
		if _, err := rpc.NewClient(peer).SendBlock(pkg); err != nil {
			log.Warn("block gossip failed", "peer", peer, "err", err)
		}
	}
}

func (n *Node) broadcastStatus(peers []chainmodel.PeerAddr) {
	n.mu.Lock()
	self := n.self
	status := n.statusLocked()
	n.mu.Unlock()

	for _, peer := range peers {
		remote, remoteStatus, err := rpc.NewClient(peer).SendStatus(self, status)
		if err != nil {
			log.Warn("status gossip failed", "peer", peer, "err", err)
			continue
		}
		n.mu.Lock()
		n.statuses[remote] = remoteStatus
		n.mu.Unlock()
	}
}

// ConnectToNode exchanges addresses with peer directly, adding it to the
// peer list on success.
func (n *Node) ConnectToNode(peer chainmodel.PeerAddr) error {
	n.mu.Lock()
	self := n.self
	n.mu.Unlock()

	confirmed, err := rpc.NewClient(peer).AnnounceSelfConfirm(self)
	if err != nil {
		log.Warn("connect to node failed", "peer", peer, "err", err)
		return err
	}
	if confirmed != peer {
		return nil
	}

	n.mu.Lock()
	n.addPeerLocked(peer)
	n.mu.Unlock()
	log.Info("connected to node", "peer", peer)
	return nil
}

func (n *Node) addPeerLocked(peer chainmodel.PeerAddr) {
	for _, p := range n.peers {
		if p == peer {
			return
		}
	}
	n.peers = append(n.peers, peer)
}

// ConnectToNetwork bootstraps from peer: fetches its known peer list,
// exchanges addresses with every new peer, pushes this node's free
// transactions, pulls peer's free transactions, then reconciles chain
// state via AchieveConsensus. The listener must be running.
func (n *Node) ConnectToNetwork(peer chainmodel.PeerAddr) error {
	n.mu.Lock()
	self := n.self
	listening := n.listening
	n.mu.Unlock()

	if !listening {
		log.Warn("cannot connect to network: listener not running")
		return errListenerNotRunning
	}
	if peer == self {
		log.Warn("refusing to connect to self as network bootstrap")
		return nil
	}

	knownPeers, confirmed, err := rpc.NewClient(peer).JoinNetwork(self)
	if err != nil {
		log.Warn("connect to network failed", "peer", peer, "err", err)
		return err
	}

	n.mu.Lock()
	var newPeers []chainmodel.PeerAddr
	for _, p := range knownPeers {
		if p == self {
			continue
		}
		before := len(n.peers)
		n.addPeerLocked(p)
		if len(n.peers) != before {
			newPeers = append(newPeers, p)
		}
	}
	if confirmed == peer {
		n.addPeerLocked(peer)
	}
	n.mu.Unlock()

	for _, p := range newPeers {
		if err := n.ConnectToNode(p); err != nil {
			log.Warn("failed to exchange addresses with bootstrapped peer", "peer", p, "err", err)
		}
	}

	n.mu.Lock()
	free := n.freePool.Snapshot()
	n.mu.Unlock()
	for _, r := range free {
		if err := rpc.NewClient(peer).SendTransaction(r); err != nil {
			log.Warn("failed to push free transaction to bootstrap peer", "err", err)
		}
	}
	if err := rpc.NewClient(peer).RequestTransactions(self); err != nil {
		log.Warn("failed to request free transactions from bootstrap peer", "peer", peer, "err", err)
	}

	n.AchieveConsensus()
	log.Info("connected to network", "peer", peer, "peer_count", len(n.Peers()))
	return nil
}

var errListenerNotRunning = errors.New("node: listener not running")

// DisconnectFromNetwork announces departure to every peer, then clears
// the peer list and status map regardless of whether any peer
// acknowledged.
func (n *Node) DisconnectFromNetwork() {
	n.mu.Lock()
	self := n.self
	peers := append([]chainmodel.PeerAddr(nil), n.peers...)
	n.mu.Unlock()

	for _, peer := range peers {
		if err := rpc.NewClient(peer).Disconnect(self); err != nil {
			log.Warn("disconnect failed", "peer", peer, "err", err)
		}
	}

	n.mu.Lock()
	n.peers = nil
	n.statuses = consensus.StatusMap{n.self: n.statusLocked()}
	n.mu.Unlock()
}

// AchieveConsensus reconciles the local chain with the network's
// consensus chain: pause the miner, match to the consensus chain's
// hashlist prefix, pull missing blocks, broadcast status, resume the
// miner if it had been running.
func (n *Node) AchieveConsensus() {
	n.mu.Lock()
	wasMining := n.mining
	n.mu.Unlock()

	if wasMining {
		n.StopMiner()
	}

	n.mu.Lock()
	triple := consensus.GatherConsensus(n.statuses)
	nodes := consensus.ConsensusNodes(n.statuses, triple)
	candidates := make([]chainmodel.PeerAddr, 0, nodes.Cardinality())
	for _, p := range nodes.ToSlice() {
		if p != n.self {
			candidates = append(candidates, p)
		}
	}
	c := n.chain
	n.mu.Unlock()

	if len(candidates) > 0 {
		if err := consensus.MatchToConsensusChain(c, candidates); err != nil {
			log.Warn("consensus chain match failed", "err", err)
		}
		if err := consensus.GetMissingBlocks(context.Background(), c, candidates, triple); err != nil {
			log.Warn("consensus catch-up incomplete", "err", err)
		}
	}

	n.mu.Lock()
	n.statuses[n.self] = n.statusLocked()
	peers := append([]chainmodel.PeerAddr(nil), n.peers...)
	n.mu.Unlock()
	n.broadcastStatus(peers)

	if wasMining {
		n.StartMiner()
	}
}

// handlers builds the dispatcher callback table, each one acquiring the
// node lock for exactly as long as it needs to read or mutate state.
func (n *Node) handlers() dispatcher.Handlers {
	return dispatcher.Handlers{
		Node:            n.onNode,
		Network:         n.onNetwork,
		Disconnect:      n.onDisconnect,
		Transaction:     n.onTransaction,
		GetTransactions: n.onGetTransactions,
		NewBlock:        n.onNewBlock,
		IndexedBlock:    n.onIndexedBlock,
		Status:          n.onStatus,
		HashMatch:       n.onHashMatch,
	}
}

func (n *Node) onNode(peer chainmodel.PeerAddr) (chainmodel.PeerAddr, error) {
	n.mu.Lock()
	n.addPeerLocked(peer)
	self := n.self
	n.mu.Unlock()
	return self, nil
}

func (n *Node) onNetwork(peer chainmodel.PeerAddr) ([]chainmodel.PeerAddr, chainmodel.PeerAddr, error) {
	n.mu.Lock()
	knownPeers := append([]chainmodel.PeerAddr(nil), n.peers...)
	n.addPeerLocked(peer)
	self := n.self
	n.mu.Unlock()
	return knownPeers, self, nil
}

func (n *Node) onDisconnect(peer chainmodel.PeerAddr) (chainmodel.PeerAddr, error) {
	n.mu.Lock()
	for i, p := range n.peers {
		if p == peer {
			n.peers = append(n.peers[:i], n.peers[i+1:]...)
			break
		}
	}
	delete(n.statuses, peer)
	self := n.self
	n.mu.Unlock()
	return self, nil
}

func (n *Node) onTransaction(receipt chainmodel.Receipt) (chainmodel.PeerAddr, error) {
	n.mu.Lock()
	if !n.firmPool.Contains(receipt) {
		n.freePool.Add(receipt)
	}
	self := n.self
	n.mu.Unlock()
	return self, nil
}

func (n *Node) onGetTransactions(peer chainmodel.PeerAddr) (bool, error) {
	n.mu.Lock()
	free := n.freePool.Snapshot()
	n.mu.Unlock()

	go func() {
		client := rpc.NewClient(peer)
		for _, r := range free {
			if err := client.SendTransaction(r); err != nil {
				log.Warn("failed to push free transaction", "peer", peer, "err", err)
				return
			}
		}
	}()
	return true, nil
}

func (n *Node) onNewBlock(pkg chainmodel.Package) (bool, error) {
	n.mu.Lock()
	wasMining := n.mining
	n.mu.Unlock()
	if wasMining {
		n.StopMiner()
	}

	block := chainmodel.Unpack(pkg)
	n.mu.Lock()
	err := n.chain.AddBlock(block, pkg.Data.BlockHash)
	accepted := err == nil
	if accepted {
		n.firmPool.Sieve(pkg.Transactions)
		n.freePool.Sieve(pkg.Transactions)
		n.statuses[n.self] = n.statusLocked()
	}
	peers := append([]chainmodel.PeerAddr(nil), n.peers...)
	n.mu.Unlock()

	if !accepted {
		log.Warn("rejected inbound block", "err", err)
	}
	n.broadcastStatus(peers)

	if wasMining {
		n.StartMiner()
	}
	return accepted, nil
}

func (n *Node) onIndexedBlock(index int64) (chainmodel.Package, bool) {
	return n.chain.At(int(index))
}

func (n *Node) onStatus(peer chainmodel.PeerAddr, status Status) (chainmodel.PeerAddr, Status, error) {
	n.mu.Lock()
	n.statuses[peer] = status
	self := n.self
	selfStatus := n.statusLocked()
	triple := consensus.GatherConsensus(n.statuses)
	nodes := consensus.ConsensusNodes(n.statuses, triple)
	var lagging []chainmodel.PeerAddr
	inConsensus := nodes.Contains(self)
	if inConsensus {
		for _, p := range n.peers {
			if !nodes.Contains(p) {
				lagging = append(lagging, p)
			}
		}
	}
	n.mu.Unlock()

	if !inConsensus {
		go n.AchieveConsensus()
	} else {
		go n.broadcastStatus(lagging)
	}

	return self, selfStatus, nil
}

func (n *Node) onHashMatch(hashlist []string) (int, error) {
	local := n.chain.Hashlist()
	return consensus.HashMatch(local, hashlist), nil
}
