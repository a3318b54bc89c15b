package api

// Link is a point-to-point veth pair between two nodes, or between a
// node and a bridge. The two ends live and die together: deleting one
// removes its peer at the OS level, so the pair is only ever exposed
// as a single entity.
type Link struct {
	Uid     int32
	SrcNode string `yaml:"srcNode"`
	DstNode string `yaml:"dstNode"` // node name, or a bridge name for NAT attachments
	SrcAddr string `yaml:"srcAddr"` // optional CIDR for the src-side interface
	DstAddr string `yaml:"dstAddr"` // optional CIDR for the dst-side interface

	SrcIntf NodeInterface
	DstIntf NodeInterface

	// Created is true only once both ends exist, sit in their target
	// namespace (or on the bridge) and are administratively up.
	Created bool
}
