package pkg

import (
	"Netlab/api"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lab wraps the Manager with the YAML topology surface used by the
// apply/run/show commands.
type Lab struct {
	m *Manager
}

func NewLab() *Lab {
	return &Lab{
		m: NewManager(),
	}
}

// Manager exposes the underlying registry, mainly for the interactive
// command dispatcher.
func (lab *Lab) Manager() *Manager {
	return lab.m
}

// ApplyTopoConfig builds the topology described by a YAML file:
// nodes (with mount overrides), then links, then NAT bridges with
// their attachments.
func (lab *Lab) ApplyTopoConfig(filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("error reading YAML file: %v", err)
	}

	var topoCfg api.TopoConfig
	if err = yaml.Unmarshal(data, &topoCfg); err != nil {
		return fmt.Errorf("error unmarshaling YAML file: %v", err)
	}

	for _, n := range topoCfg.Nodes {
		if _, err = lab.m.AddNode(n.Name); err != nil {
			return err
		}
		for _, mo := range n.Mounts {
			if err = lab.m.MountOverride(n.Name, mo.Target, mo.Source); err != nil {
				return err
			}
		}
	}

	for _, l := range topoCfg.Links {
		l := l
		if err = lab.m.AddLink(&l); err != nil {
			return err
		}
	}

	for _, bc := range topoCfg.Bridges {
		if _, err = lab.m.EnsureNATBridge(bc.Name, bc.Subnet, bc.ExternalIf); err != nil {
			return err
		}
		for _, bn := range bc.Nodes {
			addr, err := lab.m.ConnectNodeToBridge(bn.Name, bc.Name, bn.IpLast)
			if err != nil {
				return err
			}
			fmt.Printf("[bridge] %s attached to %s as %s\n", bn.Name, bc.Name, addr)
		}
	}

	return nil
}

func (lab *Lab) Destroy() {
	lab.m.Destroy()
}

func (lab *Lab) ShowNodes() {
	for _, n := range lab.m.Nodes {
		fmt.Printf("Node: %s, Uid: %d, NetNs: %s, Interfaces: %d\n", n.Name, n.Uid, n.NetNs, len(n.Interfaces))
		for _, intf := range n.Interfaces {
			fmt.Printf("  %s %s\n", intf.Name, intf.Ipv4)
		}
	}
}

func (lab *Lab) ShowLinks() {
	for _, l := range lab.m.Links {
		fmt.Printf("Link: %s(%s %s) <-> %s(%s %s)\n",
			l.SrcNode, l.SrcIntf.Name, l.SrcIntf.Ipv4,
			l.DstNode, l.DstIntf.Name, l.DstIntf.Ipv4)
	}
}

func (lab *Lab) ShowBridges() {
	for _, br := range lab.m.Bridges {
		fmt.Printf("Bridge: %s, Subnet: %s, Addr: %s, ExternalIf: %s\n", br.Name, br.Subnet, br.Addr, br.ExternalIf)
		for name, last := range br.Connected {
			fmt.Printf("  %s .%d\n", name, last)
		}
	}
}
