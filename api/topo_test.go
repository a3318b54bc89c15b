package api

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestTopoConfigParse(t *testing.T) {
	doc := `
nodes:
  - name: h1
    mounts:
      - target: /usr/local/etc/app.conf
        source: /var/tmp/netlab/h1/app.conf
  - name: h2
links:
  - srcNode: h1
    dstNode: h2
    srcAddr: 10.0.0.1/24
    dstAddr: 10.0.0.2/24
bridges:
  - name: br-nat
    subnet: 10.10.0.0/24
    externalIf: eth0
    nodes:
      - name: h1
        ipLast: 5
      - name: h2
`
	var cfg TopoConfig
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(cfg.Nodes) != 2 || cfg.Nodes[0].Name != "h1" {
		t.Fatalf("nodes=%+v", cfg.Nodes)
	}
	if len(cfg.Nodes[0].Mounts) != 1 || cfg.Nodes[0].Mounts[0].Target != "/usr/local/etc/app.conf" {
		t.Fatalf("mounts=%+v", cfg.Nodes[0].Mounts)
	}
	if len(cfg.Links) != 1 {
		t.Fatalf("links=%+v", cfg.Links)
	}
	l := cfg.Links[0]
	if l.SrcNode != "h1" || l.DstNode != "h2" || l.SrcAddr != "10.0.0.1/24" || l.DstAddr != "10.0.0.2/24" {
		t.Fatalf("link=%+v", l)
	}
	if len(cfg.Bridges) != 1 {
		t.Fatalf("bridges=%+v", cfg.Bridges)
	}
	b := cfg.Bridges[0]
	if b.Name != "br-nat" || b.Subnet != "10.10.0.0/24" || b.ExternalIf != "eth0" {
		t.Fatalf("bridge=%+v", b)
	}
	if len(b.Nodes) != 2 || b.Nodes[0].IpLast != 5 || b.Nodes[1].IpLast != 0 {
		t.Fatalf("bridge nodes=%+v", b.Nodes)
	}
}
