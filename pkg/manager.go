package pkg

import (
	"Netlab/api"
	"Netlab/pkg/bridge"
	"Netlab/pkg/link"
	"Netlab/pkg/node"
	"Netlab/pkg/nsexec"
	"Netlab/pkg/util"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Manager is the process-wide topology registry: all live nodes,
// links and bridges, plus the global set of allocated interface
// names. One mutex guards the check-and-register sections only; it is
// never held while a node command runs or while another operation's
// OS work is in flight.
type Manager struct {
	mu      sync.Mutex
	Nodes   map[string]*api.Node
	Links   []*api.Link
	Bridges map[string]*api.Bridge
	ifNames map[string]struct{}

	// bridgeEnsures tracks in-flight EnsureNATBridge calls by name, so
	// a registered bridge is always a fully ensured one.
	bridgeEnsures map[string]chan struct{}

	nm      *node.NamespaceManager
	lm      *link.LinkManager
	bm      *bridge.BridgeManager
	linkSeq int32
}

// NewManager creates a Manager wired to the real OS runner.
func NewManager() *Manager {
	return NewManagerWithRunner(nsexec.NewOSRunner())
}

// NewManagerWithRunner injects the command runner, so tests can swap
// a fake in.
func NewManagerWithRunner(r nsexec.Runner) *Manager {
	return &Manager{
		Nodes:         make(map[string]*api.Node),
		Bridges:       make(map[string]*api.Bridge),
		ifNames:       make(map[string]struct{}),
		bridgeEnsures: make(map[string]chan struct{}),
		nm:            node.NewNamespaceManager(r),
		lm:            link.NewLinkManager(),
		bm:            bridge.NewBridgeManager(),
		linkSeq:       1,
	}
}

// AddNode registers and creates a node. The name is claimed under the
// lock before the namespace is allocated, so two concurrent creations
// of the same name cannot both succeed.
func (m *Manager) AddNode(name string) (*api.Node, error) {
	if err := util.ValidateIfName(util.IfName(name, 0)); err != nil {
		return nil, err
	}

	n := &api.Node{Name: name}
	m.mu.Lock()
	if _, existed := m.Nodes[name]; existed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", api.ErrDuplicateName, name)
	}
	m.Nodes[name] = n
	m.mu.Unlock()

	if err := m.nm.AddNode(n); err != nil {
		m.mu.Lock()
		delete(m.Nodes, name)
		m.mu.Unlock()
		return nil, err
	}
	return n, nil
}

// GetNode resolves a node by name, for the command dispatcher.
func (m *Manager) GetNode(name string) (*api.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, existed := m.Nodes[name]
	if !existed {
		return nil, fmt.Errorf("%w: %q", api.ErrNodeNotFound, name)
	}
	return n, nil
}

// NodeNames lists the registered node names, sorted.
func (m *Manager) NodeNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.Nodes))
	for name := range m.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cmd runs a shell command inside a node. The registry lock is not
// held while the child runs, so a hung command never blocks topology
// operations on other nodes.
func (m *Manager) Cmd(nodeName, command string) (nsexec.Result, error) {
	n, err := m.GetNode(nodeName)
	if err != nil {
		return nsexec.Result{}, err
	}
	return m.nm.Cmd(n, command)
}

// MountOverride registers and immediately applies a bind override
// scoped to one node.
func (m *Manager) MountOverride(nodeName, target, source string) error {
	n, err := m.GetNode(nodeName)
	if err != nil {
		return err
	}
	return m.nm.MountOverride(n, target, source)
}

// AddLink wires a veth pair between l.SrcNode and l.DstNode. Names
// are allocated and reserved under the lock; the device work happens
// outside it and rolls itself back on failure. Counter values used by
// a failed link are burnt, never reissued.
func (m *Manager) AddLink(l *api.Link) error {
	for _, addr := range []string{l.SrcAddr, l.DstAddr} {
		if addr != "" && !util.CheckValidCidr(addr) {
			return fmt.Errorf("%w: %q", api.ErrAddressAssign, addr)
		}
	}

	m.mu.Lock()
	src, existed := m.Nodes[l.SrcNode]
	if !existed {
		m.mu.Unlock()
		return fmt.Errorf("%w: src %q", api.ErrNodeNotFound, l.SrcNode)
	}
	dst, existed := m.Nodes[l.DstNode]
	if !existed {
		m.mu.Unlock()
		return fmt.Errorf("%w: dst %q", api.ErrNodeNotFound, l.DstNode)
	}
	srcIf, err := m.claimIfNameLocked(src)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	dstIf, err := m.claimIfNameLocked(dst)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	l.Uid = m.linkSeq
	m.linkSeq++
	m.mu.Unlock()

	l.SrcIntf.Name = srcIf
	l.DstIntf.Name = dstIf
	if err := m.lm.ConnectNodes(l, src, dst); err != nil {
		return err
	}

	m.mu.Lock()
	m.Links = append(m.Links, l)
	m.mu.Unlock()
	return nil
}

// claimIfNameLocked allocates the node's next interface name and
// reserves it globally. Callers hold m.mu.
func (m *Manager) claimIfNameLocked(n *api.Node) (string, error) {
	name := util.IfName(n.Name, n.IfCount)
	n.IfCount++
	if err := util.ValidateIfName(name); err != nil {
		return "", err
	}
	if _, taken := m.ifNames[name]; taken {
		return "", fmt.Errorf("%w: %q", api.ErrNameCollision, name)
	}
	m.ifNames[name] = struct{}{}
	return name, nil
}

// EnsureNATBridge is idempotent per process: re-ensuring a known name
// returns the recorded handle, and differing parameters are a logged
// configuration mismatch, not a failure (first call wins). Host state
// that already exists is adopted. The handle is registered only once
// Ensure has succeeded; a concurrent call for the same name waits for
// the in-flight attempt instead of seeing a half-built bridge.
func (m *Manager) EnsureNATBridge(name, subnet, externalIf string) (*api.Bridge, error) {
	m.mu.Lock()
	for {
		if br, existed := m.Bridges[name]; existed {
			m.mu.Unlock()
			if br.Subnet != subnet || br.ExternalIf != externalIf {
				log.Printf("[bridge] %s: %v: ensured with %s via %s, requested %s via %s (keeping first)",
					name, api.ErrConfigMismatch, br.Subnet, br.ExternalIf, subnet, externalIf)
			}
			return br, nil
		}
		inflight, busy := m.bridgeEnsures[name]
		if !busy {
			break
		}
		m.mu.Unlock()
		<-inflight
		m.mu.Lock()
	}
	done := make(chan struct{})
	m.bridgeEnsures[name] = done
	m.mu.Unlock()

	br := &api.Bridge{
		Name:       name,
		Subnet:     subnet,
		ExternalIf: externalIf,
		Connected:  make(map[string]int),
	}
	err := m.bm.Ensure(br)

	m.mu.Lock()
	delete(m.bridgeEnsures, name)
	if err == nil {
		m.Bridges[name] = br
	}
	m.mu.Unlock()
	close(done)

	if err != nil {
		return nil, err
	}
	log.Printf("[bridge] ensured %s (%s via %s)", name, subnet, externalIf)
	return br, nil
}

// ConnectNodeToBridge attaches a node to an ensured NAT bridge and
// returns the CIDR assigned to the node-side interface. ipLast 0
// auto-allocates the lowest free octet.
func (m *Manager) ConnectNodeToBridge(nodeName, bridgeName string, ipLast int) (string, error) {
	m.mu.Lock()
	n, existed := m.Nodes[nodeName]
	if !existed {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q", api.ErrNodeNotFound, nodeName)
	}
	br, existed := m.Bridges[bridgeName]
	if !existed || !br.Ensured {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: bridge %q not ensured", api.ErrBridgeCreate, bridgeName)
	}
	last, err := m.bm.AllocateLast(br, nodeName, ipLast)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	nodeIf, err := m.claimIfNameLocked(n)
	if err != nil {
		m.bm.Release(br, nodeName)
		m.mu.Unlock()
		return "", err
	}
	hostIf := util.BridgeSideName(nodeIf)
	if err := util.ValidateIfName(hostIf); err != nil {
		m.bm.Release(br, nodeName)
		m.mu.Unlock()
		return "", err
	}
	if _, taken := m.ifNames[hostIf]; taken {
		m.bm.Release(br, nodeName)
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q", api.ErrNameCollision, hostIf)
	}
	m.ifNames[hostIf] = struct{}{}
	l := &api.Link{Uid: m.linkSeq, SrcNode: nodeName, DstNode: bridgeName}
	m.linkSeq++
	m.mu.Unlock()

	addr, err := util.HostAddr(br.Subnet, last)
	if err != nil {
		m.releaseOctet(br, nodeName)
		return "", fmt.Errorf("%w: %v", api.ErrAddressAssign, err)
	}
	gw, err := util.GatewayIP(br.Subnet)
	if err != nil {
		m.releaseOctet(br, nodeName)
		return "", fmt.Errorf("%w: %v", api.ErrAddressAssign, err)
	}

	l.SrcIntf.Name = nodeIf
	l.DstIntf.Name = hostIf
	l.SrcAddr = addr
	if err := m.lm.AttachNodeToBridge(l, n, br, addr, gw); err != nil {
		m.releaseOctet(br, nodeName)
		return "", err
	}

	m.mu.Lock()
	m.Links = append(m.Links, l)
	m.mu.Unlock()
	return addr, nil
}

// releaseOctet undoes a bridge octet reservation under the registry
// lock; br.Connected is only ever touched with m.mu held.
func (m *Manager) releaseOctet(br *api.Bridge, nodeName string) {
	m.mu.Lock()
	m.bm.Release(br, nodeName)
	m.mu.Unlock()
}

// RemoveNode tears one node down: its namespace, its mount helper and
// every link touching it (the peer ends die with the pair). Removing
// an unknown node is a no-op.
func (m *Manager) RemoveNode(name string) error {
	m.mu.Lock()
	n, existed := m.Nodes[name]
	if !existed {
		m.mu.Unlock()
		return nil
	}
	delete(m.Nodes, name)

	kept := m.Links[:0]
	for _, l := range m.Links {
		if l.SrcNode == name || l.DstNode == name {
			// The veth pair disappears with the namespace; only the
			// registry records need pruning.
			m.dropPeerInterfaceLocked(l, name)
			delete(m.ifNames, l.SrcIntf.Name)
			delete(m.ifNames, l.DstIntf.Name)
			continue
		}
		kept = append(kept, l)
	}
	m.Links = kept
	for _, br := range m.Bridges {
		delete(br.Connected, name)
	}
	m.mu.Unlock()

	return m.nm.DeleteNode(n)
}

// dropPeerInterfaceLocked removes the interface record that a dying
// link leaves on the surviving peer node.
func (m *Manager) dropPeerInterfaceLocked(l *api.Link, removed string) {
	peerName := l.SrcNode
	peerIntf := l.SrcIntf
	if peerName == removed {
		peerName = l.DstNode
		peerIntf = l.DstIntf
	}
	peer, existed := m.Nodes[peerName]
	if !existed {
		return
	}
	kept := peer.Interfaces[:0]
	for _, intf := range peer.Interfaces {
		if intf.Name != peerIntf.Name {
			kept = append(kept, intf)
		}
	}
	peer.Interfaces = kept
}

// DeleteBridge is the explicit teardown for NAT state; Destroy leaves
// bridges alone because they are host-durable infrastructure. The
// attachment links go down with it, so no enslaved veth end is left
// masterless on the host.
func (m *Manager) DeleteBridge(name string) error {
	m.mu.Lock()
	br, existed := m.Bridges[name]
	if !existed {
		m.mu.Unlock()
		return nil
	}
	delete(m.Bridges, name)
	last := len(m.Bridges) == 0

	var attached []*api.Link
	var nsPaths []string
	kept := m.Links[:0]
	for _, l := range m.Links {
		if l.DstNode == name {
			attached = append(attached, l)
			if n, ok := m.Nodes[l.SrcNode]; ok {
				nsPaths = append(nsPaths, n.NetNs)
				m.dropPeerInterfaceLocked(l, name)
			}
			delete(m.ifNames, l.SrcIntf.Name)
			delete(m.ifNames, l.DstIntf.Name)
			continue
		}
		kept = append(kept, l)
	}
	m.Links = kept
	m.mu.Unlock()

	for _, l := range attached {
		m.lm.Delete(l, nsPaths...)
	}
	return m.bm.Delete(br, last)
}

// Destroy removes all nodes and links, best effort: one failed
// teardown does not stop the rest.
func (m *Manager) Destroy() {
	m.mu.Lock()
	nodes := make([]*api.Node, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		nodes = append(nodes, n)
	}
	m.Nodes = make(map[string]*api.Node)
	m.Links = nil
	m.ifNames = make(map[string]struct{})
	for _, br := range m.Bridges {
		br.Connected = make(map[string]int)
	}
	m.mu.Unlock()

	for _, n := range nodes {
		if err := m.nm.DeleteNode(n); err != nil {
			log.Printf("[cleanup] %s: %v", n.Name, err)
		}
	}
}
