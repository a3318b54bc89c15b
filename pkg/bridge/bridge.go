package bridge

import (
	"Netlab/api"
	"Netlab/pkg/util"
	"bytes"
	"fmt"
	"net"
	"os"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	natTableName = "netlab-nat"
	natChainName = "postrouting"
	ipForwardSys = "/proc/sys/net/ipv4/ip_forward"

	// gatewayLast is the bridge's own host octet, never handed out.
	gatewayLast = 1
)

// BridgeManager owns the host-level NAT bridges: the bridge devices,
// their addresses, IP forwarding and the masquerade rules. Bridge
// state is machine-wide, so an existing device is adopted rather than
// treated as a failure.
type BridgeManager struct{}

func NewBridgeManager() *BridgeManager {
	return &BridgeManager{}
}

// Ensure brings br into the desired state: device present, first
// usable subnet address assigned, device up, IP forwarding on, and a
// masquerade rule for the subnet out through the external interface.
// Every step tolerates already-present state.
func (bm *BridgeManager) Ensure(br *api.Bridge) error {
	if _, _, err := net.ParseCIDR(br.Subnet); err != nil {
		return fmt.Errorf("%w: subnet %q: %v", api.ErrBridgeCreate, br.Subnet, err)
	}
	if _, err := netlink.LinkByName(br.ExternalIf); err != nil {
		return fmt.Errorf("%w: %q: %v", api.ErrNoExternalInterface, br.ExternalIf, err)
	}

	brLink, err := netlink.LinkByName(br.Name)
	if err != nil {
		linkAttr := netlink.NewLinkAttrs()
		linkAttr.Name = br.Name
		if err := netlink.LinkAdd(&netlink.Bridge{LinkAttrs: linkAttr}); err != nil {
			return fmt.Errorf("%w: %q: %v", api.ErrBridgeCreate, br.Name, err)
		}
		brLink, err = netlink.LinkByName(br.Name)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", api.ErrBridgeCreate, br.Name, err)
		}
	} else {
		fmt.Printf("[bridge] using existing device %s\n", br.Name)
	}

	gw, err := util.GatewayAddr(br.Subnet)
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrBridgeCreate, err)
	}
	if err := ensureAddr(brLink, gw); err != nil {
		return fmt.Errorf("%w: %s on %q: %v", api.ErrBridgeCreate, gw, br.Name, err)
	}
	if err := netlink.LinkSetUp(brLink); err != nil {
		return fmt.Errorf("%w: %q: %v", api.ErrBridgeCreate, br.Name, err)
	}

	if err := os.WriteFile(ipForwardSys, []byte("1"), 0o644); err != nil {
		return fmt.Errorf("%w: enable ip_forward: %v", api.ErrForwardingSetup, err)
	}
	if err := installMasquerade(br.Subnet, br.ExternalIf); err != nil {
		return fmt.Errorf("%w: masquerade %s via %s: %v", api.ErrForwardingSetup, br.Subnet, br.ExternalIf, err)
	}

	br.Addr = gw
	br.Ensured = true
	if br.Connected == nil {
		br.Connected = make(map[string]int)
	}
	return nil
}

// AllocateLast reserves a host octet on br's subnet for nodeName.
// ipLast 0 auto-allocates the lowest free octet starting after the
// gateway; an explicit octet fails when already taken.
func (bm *BridgeManager) AllocateLast(br *api.Bridge, nodeName string, ipLast int) (int, error) {
	used := func(last int) (string, bool) {
		if last == gatewayLast {
			return br.Name, true
		}
		for name, l := range br.Connected {
			if l == last {
				return name, true
			}
		}
		return "", false
	}

	if ipLast != 0 {
		if holder, taken := used(ipLast); taken {
			return 0, fmt.Errorf("%w: .%d on %s held by %s", api.ErrAddressInUse, ipLast, br.Name, holder)
		}
		br.Connected[nodeName] = ipLast
		return ipLast, nil
	}

	for last := gatewayLast + 1; last <= 254; last++ {
		if _, taken := used(last); !taken {
			br.Connected[nodeName] = last
			return last, nil
		}
	}
	return 0, fmt.Errorf("%w: subnet %s exhausted", api.ErrAddressInUse, br.Subnet)
}

// Release drops a node's octet reservation, for link rollback.
func (bm *BridgeManager) Release(br *api.Bridge, nodeName string) {
	delete(br.Connected, nodeName)
}

// Delete removes the bridge device. When lastBridge is set the shared
// NAT table goes with it; otherwise other bridges keep their rules.
func (bm *BridgeManager) Delete(br *api.Bridge, lastBridge bool) error {
	if link, err := netlink.LinkByName(br.Name); err == nil {
		_ = netlink.LinkSetDown(link)
		if err := netlink.LinkDel(link); err != nil {
			return fmt.Errorf("delete bridge %q: %w", br.Name, err)
		}
	}
	br.Ensured = false
	if lastBridge {
		return deleteNATTable()
	}
	return nil
}

// ensureAddr assigns addr unless the device already carries it, so a
// concurrently ensured bridge is adopted instead of failing.
func ensureAddr(link netlink.Link, addr string) error {
	want, err := netlink.ParseAddr(addr)
	if err != nil {
		return err
	}
	addrs, err := netlink.AddrList(link, unix.AF_INET)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if a.IPNet != nil && a.IPNet.String() == want.IPNet.String() {
			return nil
		}
	}
	return netlink.AddrAdd(link, want)
}

// installMasquerade programs the kernel directly over netlink: one
// postrouting NAT rule translating subnet traffic leaving externalIf.
// The shared table is add-if-absent, never flushed: rules another
// bridge or another running process installed stay untouched.
func installMasquerade(subnet, externalIf string) error {
	_, ipNet, err := net.ParseCIDR(subnet)
	if err != nil {
		return err
	}

	conn, err := nftables.New()
	if err != nil {
		return err
	}

	table := conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   natTableName,
	})
	chain := conn.AddChain(&nftables.Chain{
		Name:     natChainName,
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})

	// GetRules queries live kernel state; an error here just means the
	// table does not exist yet.
	if rules, err := conn.GetRules(table, chain); err == nil {
		for _, r := range rules {
			if ruleMatches(r, externalIf, ipNet) {
				return nil
			}
		}
	}

	conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: masqueradeExprs(externalIf, ipNet),
	})
	return conn.Flush()
}

// masqueradeExprs builds the rule body: traffic from ipNet leaving
// through externalIf gets source-NATed.
func masqueradeExprs(externalIf string, ipNet *net.IPNet) []expr.Any {
	return []expr.Any{
		// oifname == externalIf
		&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     ifname(externalIf),
		},
		// saddr & mask == subnet
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       12, // IPv4 source address
			Len:          4,
		},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           ipNet.Mask,
			Xor:            []byte{0, 0, 0, 0},
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     ipNet.IP.To4(),
		},
		&expr.Masq{},
	}
}

// ruleMatches reports whether an installed rule is the masquerade rule
// for this subnet and external interface: it compares our interface
// and subnet against the rule's cmp operands and requires a masq verdict.
func ruleMatches(r *nftables.Rule, externalIf string, ipNet *net.IPNet) bool {
	var ifMatch, subnetMatch, masq bool
	for _, e := range r.Exprs {
		switch v := e.(type) {
		case *expr.Cmp:
			if bytes.Equal(v.Data, ifname(externalIf)) {
				ifMatch = true
			}
			if bytes.Equal(v.Data, ipNet.IP.To4()) {
				subnetMatch = true
			}
		case *expr.Masq:
			masq = true
		}
	}
	return ifMatch && subnetMatch && masq
}

func deleteNATTable() error {
	conn, err := nftables.New()
	if err != nil {
		return err
	}
	conn.DelTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   natTableName,
	})
	return conn.Flush()
}

// ifname encodes an interface name the way nftables compares it:
// null-terminated.
func ifname(s string) []byte {
	return append([]byte(s), 0)
}
