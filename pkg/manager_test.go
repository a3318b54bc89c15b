package pkg

import (
	"Netlab/api"
	"Netlab/pkg/nsexec"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

// fakeRunner records invocations instead of touching the host.
type fakeRunner struct {
	lastNS  string
	lastCmd string
	res     nsexec.Result
}

func (f *fakeRunner) Run(command string) (nsexec.Result, error) {
	f.lastCmd = command
	return f.res, nil
}

func (f *fakeRunner) RunInNS(nsName, command string) (nsexec.Result, error) {
	f.lastNS = nsName
	f.lastCmd = command
	return f.res, nil
}

func (f *fakeRunner) RunInHelper(pid int, command string) (nsexec.Result, error) {
	f.lastCmd = command
	return f.res, nil
}

func TestGetNodeNotFound(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	if _, err := m.GetNode("ghost"); !errors.Is(err, api.ErrNodeNotFound) {
		t.Fatalf("err=%v, want ErrNodeNotFound", err)
	}
}

func TestCmdDispatchesToNodeNamespace(t *testing.T) {
	fr := &fakeRunner{res: nsexec.Result{ExitCode: 0, Stdout: "ok\n"}}
	m := NewManagerWithRunner(fr)
	m.Nodes["h1"] = &api.Node{Name: "h1", NetNs: "/run/netns/h1"}

	res, err := m.Cmd("h1", "ip addr")
	if err != nil {
		t.Fatalf("Cmd: %v", err)
	}
	if fr.lastNS != "h1" || fr.lastCmd != "ip addr" {
		t.Fatalf("dispatched ns=%q cmd=%q", fr.lastNS, fr.lastCmd)
	}
	if res.Stdout != "ok\n" {
		t.Fatalf("stdout=%q", res.Stdout)
	}

	if _, err := m.Cmd("ghost", "true"); !errors.Is(err, api.ErrNodeNotFound) {
		t.Fatalf("err=%v, want ErrNodeNotFound", err)
	}
}

func TestNodeNamesSorted(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	for _, name := range []string{"h2", "h1", "r1"} {
		m.Nodes[name] = &api.Node{Name: name}
	}
	got := m.NodeNames()
	want := []string{"h1", "h2", "r1"}
	if len(got) != len(want) {
		t.Fatalf("names=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names=%v, want %v", got, want)
		}
	}
}

func TestClaimIfName(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	n := &api.Node{Name: "h1"}

	first, err := m.claimIfNameLocked(n)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first != "h1-eth0" || n.IfCount != 1 {
		t.Fatalf("first=%q count=%d", first, n.IfCount)
	}

	second, err := m.claimIfNameLocked(n)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if second != "h1-eth1" {
		t.Fatalf("second=%q", second)
	}

	// A stale reservation surfaces as a collision, and the counter
	// still moves: burnt values are never reissued.
	n2 := &api.Node{Name: "h1"}
	if _, err := m.claimIfNameLocked(n2); !errors.Is(err, api.ErrNameCollision) {
		t.Fatalf("err=%v, want ErrNameCollision", err)
	}
	if n2.IfCount != 1 {
		t.Fatalf("count=%d, want 1", n2.IfCount)
	}
}

func TestAddLinkUnknownNode(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	err := m.AddLink(&api.Link{SrcNode: "h1", DstNode: "h2"})
	if !errors.Is(err, api.ErrNodeNotFound) {
		t.Fatalf("err=%v, want ErrNodeNotFound", err)
	}
}

func TestAddLinkRejectsBadAddress(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	err := m.AddLink(&api.Link{SrcNode: "h1", DstNode: "h2", SrcAddr: "10.0.0.300/24"})
	if !errors.Is(err, api.ErrAddressAssign) {
		t.Fatalf("err=%v, want ErrAddressAssign", err)
	}
}

func TestMountOverrideInvalidPaths(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	m.Nodes["h1"] = &api.Node{Name: "h1", NetNs: "/run/netns/h1"}

	// Missing source.
	err := m.MountOverride("h1", "/tmp/x", filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, api.ErrInvalidPath) {
		t.Fatalf("err=%v, want ErrInvalidPath", err)
	}

	// Relative target.
	err = m.MountOverride("h1", "tmp/x", t.TempDir())
	if !errors.Is(err, api.ErrInvalidPath) {
		t.Fatalf("err=%v, want ErrInvalidPath", err)
	}
}

func TestConnectNodeToBridgeRequiresEnsuredBridge(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	m.Nodes["h1"] = &api.Node{Name: "h1", NetNs: "/run/netns/h1"}

	if _, err := m.ConnectNodeToBridge("h1", "br-nat", 0); !errors.Is(err, api.ErrBridgeCreate) {
		t.Fatalf("err=%v, want ErrBridgeCreate", err)
	}
	if _, err := m.ConnectNodeToBridge("ghost", "br-nat", 0); !errors.Is(err, api.ErrNodeNotFound) {
		t.Fatalf("err=%v, want ErrNodeNotFound", err)
	}
}

func TestEnsureNATBridgeFailureLeavesNoRegistration(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})

	_, err := m.EnsureNATBridge("br-nat", "not-a-subnet", "eth0")
	if !errors.Is(err, api.ErrBridgeCreate) {
		t.Fatalf("err=%v, want ErrBridgeCreate", err)
	}

	// The failed attempt must not be visible to anyone: a registered
	// bridge is always a fully ensured one.
	m.mu.Lock()
	_, registered := m.Bridges["br-nat"]
	m.mu.Unlock()
	if registered {
		t.Fatal("failed ensure left a registered bridge")
	}

	// A retry runs Ensure again instead of returning a dead handle.
	if _, err := m.EnsureNATBridge("br-nat", "not-a-subnet", "eth0"); !errors.Is(err, api.ErrBridgeCreate) {
		t.Fatalf("retry err=%v, want ErrBridgeCreate", err)
	}
}

func TestEnsureNATBridgeConcurrentSameName(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.EnsureNATBridge("br-nat", "not-a-subnet", "eth0")
		}(i)
	}
	wg.Wait()

	// Every caller gets the real outcome; none observes an
	// intermediate unensured handle.
	for i, err := range errs {
		if !errors.Is(err, api.ErrBridgeCreate) {
			t.Fatalf("caller %d: err=%v, want ErrBridgeCreate", i, err)
		}
	}
	m.mu.Lock()
	_, registered := m.Bridges["br-nat"]
	m.mu.Unlock()
	if registered {
		t.Fatal("failed ensure left a registered bridge")
	}
}

func TestRemoveNodeIdempotent(t *testing.T) {
	m := NewManagerWithRunner(&fakeRunner{})
	if err := m.RemoveNode("never-existed"); err != nil {
		t.Fatalf("remove of unknown node must be a no-op, got %v", err)
	}
}
