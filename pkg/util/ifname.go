package util

import (
	"Netlab/api"
	"fmt"
	"regexp"
)

// Kernel IFNAMSIZ is 16 including the NUL terminator.
const MaxIfNameLen = 15

var ifNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// IfName derives a node's interface name from its running counter,
// e.g. ("h1", 0) -> "h1-eth0". The caller owns the counter and must
// only ever increment it.
func IfName(nodeName string, count int) string {
	return fmt.Sprintf("%s-eth%d", nodeName, count)
}

// BridgeSideName names the host end of a veth pair whose peer sits in
// a node, when the host end is enslaved to a bridge.
func BridgeSideName(ifName string) string {
	return ifName + "-br"
}

// ValidateIfName checks a device name against the kernel constraints
// before any OS call is issued, so a rejected name can never leave
// partially applied state behind.
func ValidateIfName(name string) error {
	if len(name) > MaxIfNameLen {
		return fmt.Errorf("%w: %q (%d chars, max %d)", api.ErrNameTooLong, name, len(name), MaxIfNameLen)
	}
	if !ifNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", api.ErrInvalidChars, name)
	}
	return nil
}
