package api

// Node is one emulated host, backed by a named network namespace
// under /run/netns. Interfaces are appended only by link and bridge
// operations; IfCount never decreases, so names allocated for a link
// that later rolled back are never reissued.
type Node struct {
	Uid    int32
	Name   string          `yaml:"name"`
	Mounts []MountOverride `yaml:"mounts"`

	NetNs      string // filesystem path of the namespace, e.g. /run/netns/h1
	Interfaces []NodeInterface
	IfCount    int

	// MountNsPid is the pid of the helper process holding this node's
	// private mount namespace, 0 while no override is active.
	MountNsPid int
}

// NodeInterface records one live device inside a node's namespace.
type NodeInterface struct {
	Name     string
	Ipv4     string // CIDR form, empty when unaddressed
	NodeName string
	BrName   string // set when the peer end is attached to a bridge
	Peer     string // name of the other end of the veth pair
}

// MountOverride substitutes Source for Target in one node's view,
// without affecting the host or other nodes.
type MountOverride struct {
	Target string `yaml:"target"`
	Source string `yaml:"source"`
}
