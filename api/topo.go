package api

// TopoConfig is the YAML topology description consumed by apply/run.
type TopoConfig struct {
	Nodes   []Node         `yaml:"nodes"`
	Links   []Link         `yaml:"links"`
	Bridges []BridgeConfig `yaml:"bridges"`
}

// BridgeConfig declares one NAT bridge and the nodes attached to it.
type BridgeConfig struct {
	Name       string       `yaml:"name"`
	Subnet     string       `yaml:"subnet"`
	ExternalIf string       `yaml:"externalIf"`
	Nodes      []BridgeNode `yaml:"nodes"`
}
