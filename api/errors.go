package api

import "errors"

// Sentinel errors for the orchestration core. Callers match with
// errors.Is; the wrapped text carries the names, paths and underlying
// OS error needed to diagnose a failure without re-running.
var (
	ErrDuplicateName = errors.New("duplicate node name")
	ErrNodeNotFound  = errors.New("node not found")

	ErrInvalidPath     = errors.New("invalid mount override path")
	ErrCommandNotFound = errors.New("command not found")
	ErrNamespaceSwitch = errors.New("namespace switch failed")

	ErrNameCollision = errors.New("interface name collision")
	ErrNameTooLong   = errors.New("interface name too long")
	ErrInvalidChars  = errors.New("interface name has invalid characters")

	ErrDeviceCreate  = errors.New("device create failed")
	ErrNamespaceMove = errors.New("namespace move failed")
	ErrAddressAssign = errors.New("address assign failed")
	ErrActivation    = errors.New("interface activation failed")

	ErrAddressInUse        = errors.New("address already in use")
	ErrBridgeCreate        = errors.New("bridge create failed")
	ErrNoExternalInterface = errors.New("external interface not found")
	ErrForwardingSetup     = errors.New("forwarding setup failed")
	ErrConfigMismatch      = errors.New("bridge configuration mismatch")
)
