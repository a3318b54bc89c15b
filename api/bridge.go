package api

// Bridge is a host-level NAT bridge. The device and its NAT rules are
// machine-wide state and survive node/link teardown; only an explicit
// delete removes them.
type Bridge struct {
	Name       string `yaml:"name"`
	Subnet     string `yaml:"subnet"`     // CIDR, e.g. 10.10.0.0/24
	ExternalIf string `yaml:"externalIf"` // real NIC the masquerade rule points out of

	// Addr is the bridge's own address, the first usable of Subnet.
	Addr    string
	Ensured bool

	// Connected maps node name to the last octet assigned on Subnet.
	Connected map[string]int
}

// BridgeNode is one node attachment in a topology file.
type BridgeNode struct {
	Name   string `yaml:"name"`
	IpLast int    `yaml:"ipLast"` // 0 means auto-allocate
}
