package link

import (
	"Netlab/api"
	"fmt"
	"net"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/vishvananda/netlink"
)

// LinkManager performs the veth-pair orchestration for links between
// nodes and for node-to-bridge attachments. Interface names arrive
// already allocated and validated; this layer only touches devices.
//
// Every connect is atomic from the caller's view: any failure after
// the pair exists deletes it again (removing one end removes both),
// so no orphaned device survives outside a node's interface list.
type LinkManager struct{}

func NewLinkManager() *LinkManager {
	return &LinkManager{}
}

// ConnectNodes creates the veth pair for l, moves one end into each
// node, assigns the optional addresses and brings both ends up. The
// nodes' interface records are appended only on full success.
func (lm *LinkManager) ConnectNodes(l *api.Link, src, dst *api.Node) error {
	srcIf, dstIf := l.SrcIntf.Name, l.DstIntf.Name

	if err := createPair(srcIf, dstIf); err != nil {
		return err
	}

	if err := moveIntoNode(srcIf, src); err != nil {
		deletePair([]string{srcIf, dstIf}, nil)
		return err
	}
	if err := moveIntoNode(dstIf, dst); err != nil {
		deletePair([]string{srcIf, dstIf}, []string{src.NetNs})
		return err
	}

	nsPaths := []string{src.NetNs, dst.NetNs}
	if err := configureInNode(src, srcIf, l.SrcAddr, nil); err != nil {
		deletePair([]string{srcIf, dstIf}, nsPaths)
		return err
	}
	if err := configureInNode(dst, dstIf, l.DstAddr, nil); err != nil {
		deletePair([]string{srcIf, dstIf}, nsPaths)
		return err
	}

	l.SrcIntf = api.NodeInterface{Name: srcIf, Ipv4: l.SrcAddr, NodeName: src.Name, Peer: dstIf}
	l.DstIntf = api.NodeInterface{Name: dstIf, Ipv4: l.DstAddr, NodeName: dst.Name, Peer: srcIf}
	src.Interfaces = append(src.Interfaces, l.SrcIntf)
	dst.Interfaces = append(dst.Interfaces, l.DstIntf)
	l.Created = true
	return nil
}

// AttachNodeToBridge creates a veth pair whose host end is enslaved
// to the bridge device and whose node end gets addr plus a default
// route via gw. Same rollback contract as ConnectNodes.
func (lm *LinkManager) AttachNodeToBridge(l *api.Link, n *api.Node, br *api.Bridge, addr string, gw net.IP) error {
	nodeIf, hostIf := l.SrcIntf.Name, l.DstIntf.Name

	if err := createPair(hostIf, nodeIf); err != nil {
		return err
	}

	brLink, err := netlink.LinkByName(br.Name)
	if err != nil {
		deletePair([]string{hostIf, nodeIf}, nil)
		return fmt.Errorf("%w: bridge %q: %v", api.ErrDeviceCreate, br.Name, err)
	}
	hostLink, err := netlink.LinkByName(hostIf)
	if err != nil {
		deletePair([]string{hostIf, nodeIf}, nil)
		return fmt.Errorf("%w: %q: %v", api.ErrDeviceCreate, hostIf, err)
	}
	if err := netlink.LinkSetMaster(hostLink, brLink); err != nil {
		deletePair([]string{hostIf, nodeIf}, nil)
		return fmt.Errorf("%w: enslave %q to %q: %v", api.ErrDeviceCreate, hostIf, br.Name, err)
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		deletePair([]string{hostIf, nodeIf}, nil)
		return fmt.Errorf("%w: %q: %v", api.ErrActivation, hostIf, err)
	}

	if err := moveIntoNode(nodeIf, n); err != nil {
		deletePair([]string{hostIf, nodeIf}, nil)
		return err
	}
	if err := configureInNode(n, nodeIf, addr, gw); err != nil {
		deletePair([]string{hostIf, nodeIf}, []string{n.NetNs})
		return err
	}

	l.SrcIntf = api.NodeInterface{Name: nodeIf, Ipv4: addr, NodeName: n.Name, BrName: br.Name, Peer: hostIf}
	l.DstIntf = api.NodeInterface{Name: hostIf, BrName: br.Name, Peer: nodeIf}
	n.Interfaces = append(n.Interfaces, l.SrcIntf)
	l.Created = true
	return nil
}

// Delete removes a created link by deleting whichever end is still
// reachable; the peer end disappears with it.
func (lm *LinkManager) Delete(l *api.Link, nsPaths ...string) {
	deletePair([]string{l.SrcIntf.Name, l.DstIntf.Name}, nsPaths)
	l.Created = false
}

func createPair(name, peer string) error {
	linkAttr := netlink.NewLinkAttrs()
	linkAttr.Name = name
	linkAttr.MTU = 1500

	veth := &netlink.Veth{
		LinkAttrs: linkAttr,
		PeerName:  peer,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("%w: veth %q/%q: %v", api.ErrDeviceCreate, name, peer, err)
	}
	return nil
}

func moveIntoNode(ifName string, n *api.Node) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", api.ErrDeviceCreate, ifName, err)
	}
	nsh, err := ns.GetNS(n.NetNs)
	if err != nil {
		return fmt.Errorf("%w: namespace of %q: %v", api.ErrNamespaceMove, n.Name, err)
	}
	defer nsh.Close()
	if err := netlink.LinkSetNsFd(link, int(nsh.Fd())); err != nil {
		return fmt.Errorf("%w: %q into %q: %v", api.ErrNamespaceMove, ifName, n.Name, err)
	}
	return nil
}

// configureInNode assigns addr (if any) and brings the interface up
// inside the node's namespace. A non-nil gw also installs the default
// route, for bridge attachments.
func configureInNode(n *api.Node, ifName, addr string, gw net.IP) error {
	nsh, err := ns.GetNS(n.NetNs)
	if err != nil {
		return fmt.Errorf("%w: namespace of %q: %v", api.ErrNamespaceMove, n.Name, err)
	}
	defer nsh.Close()

	return nsh.Do(func(_ ns.NetNS) error {
		link, err := netlink.LinkByName(ifName)
		if err != nil {
			return fmt.Errorf("%w: %q in %q: %v", api.ErrNamespaceMove, ifName, n.Name, err)
		}
		if addr != "" {
			nlAddr, err := netlink.ParseAddr(addr)
			if err != nil {
				return fmt.Errorf("%w: %q on %q: %v", api.ErrAddressAssign, addr, ifName, err)
			}
			if err := netlink.AddrAdd(link, nlAddr); err != nil {
				return fmt.Errorf("%w: %q on %q: %v", api.ErrAddressAssign, addr, ifName, err)
			}
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("%w: %q in %q: %v", api.ErrActivation, ifName, n.Name, err)
		}
		if gw != nil {
			route := &netlink.Route{
				LinkIndex: link.Attrs().Index,
				Gw:        gw,
			}
			if err := netlink.RouteAdd(route); err != nil {
				return fmt.Errorf("%w: default route via %s in %q: %v", api.ErrAddressAssign, gw, n.Name, err)
			}
		}
		return nil
	})
}

// deletePair removes a veth pair wherever its ends currently live:
// the host namespace first, then each candidate node namespace.
func deletePair(names []string, nsPaths []string) {
	for _, name := range names {
		if link, err := netlink.LinkByName(name); err == nil {
			_ = netlink.LinkDel(link)
			return
		}
	}
	for _, path := range nsPaths {
		nsh, err := ns.GetNS(path)
		if err != nil {
			continue
		}
		deleted := false
		_ = nsh.Do(func(_ ns.NetNS) error {
			for _, name := range names {
				if link, err := netlink.LinkByName(name); err == nil {
					_ = netlink.LinkDel(link)
					deleted = true
					return nil
				}
			}
			return nil
		})
		nsh.Close()
		if deleted {
			return
		}
	}
}
