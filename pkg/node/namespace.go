package node

import (
	"Netlab/api"
	"Netlab/pkg/nsexec"
	"Netlab/pkg/util"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

const netnsRunDir = "/run/netns/"

// NamespaceManager manages the lifecycle of node namespaces and their
// mount-override helper processes.
// seq is used to assign a unique id to each node and never decreases.
type NamespaceManager struct {
	runner nsexec.Runner
	seq    int32

	mu      sync.Mutex
	helpers map[string]*exec.Cmd // node name -> mount helper
}

func NewNamespaceManager(r nsexec.Runner) *NamespaceManager {
	return &NamespaceManager{
		runner:  r,
		seq:     1,
		helpers: make(map[string]*exec.Cmd),
	}
}

// AddNode allocates the node's network namespace immediately and
// brings its loopback up. The name must leave room for the derived
// interface names, so it is validated before any OS call.
func (nm *NamespaceManager) AddNode(n *api.Node) error {
	if err := util.ValidateIfName(util.IfName(n.Name, 0)); err != nil {
		return err
	}
	n.Uid = nm.seq
	nm.seq++

	if err := createNamespace(n.Name); err != nil {
		return fmt.Errorf("create namespace %q: %w", n.Name, err)
	}
	n.NetNs = netnsRunDir + n.Name

	// bring up loopback
	nsh, err := ns.GetNS(n.NetNs)
	if err != nil {
		nm.discardNamespace(n)
		return fmt.Errorf("get namespace %q: %w", n.Name, err)
	}
	defer nsh.Close()
	if err := nsh.Do(func(_ ns.NetNS) error {
		lo, err := netlink.LinkByName("lo")
		if err != nil {
			return fmt.Errorf("find loopback in %q: %w", n.Name, err)
		}
		return netlink.LinkSetUp(lo)
	}); err != nil {
		nm.discardNamespace(n)
		return err
	}
	return nil
}

// discardNamespace undoes a half-constructed node. A namespace whose
// setup failed must not stay behind: the stale /run/netns file would
// make every later AddNode of the same name fail.
func (nm *NamespaceManager) discardNamespace(n *api.Node) {
	_ = netns.DeleteNamed(n.Name)
	n.NetNs = ""
}

// createNamespace makes a named namespace under /run/netns. NewNamed
// switches the calling thread into the new namespace, so the thread
// is locked and the original namespace restored on every exit path.
func createNamespace(name string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return err
	}
	defer orig.Close()
	defer func() { _ = netns.Set(orig) }()

	handle, err := netns.NewNamed(name)
	if err != nil {
		return err
	}
	return handle.Close()
}

// Cmd runs a shell command inside the node's network namespace. When
// the node carries mount overrides the command enters the helper's
// mount namespace too; a dead helper falls back to plain netns exec.
func (nm *NamespaceManager) Cmd(n *api.Node, command string) (nsexec.Result, error) {
	if n.MountNsPid != 0 {
		if err := nsexec.CheckAlive(n.MountNsPid); err != nil {
			fmt.Printf("[node] mount helper for %s died, falling back to netns exec\n", n.Name)
			nm.dropHelper(n)
		} else {
			return nm.runner.RunInHelper(n.MountNsPid, command)
		}
	}
	return nm.runner.RunInNS(n.Name, command)
}

// MountOverride bind-mounts source over target inside this node only.
// The mount lives in a helper process's private mount namespace, so
// neither the host nor other nodes see it. Overriding an already
// overridden target replaces the previous mount.
func (nm *NamespaceManager) MountOverride(n *api.Node, target, source string) error {
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("%w: source %q: %v", api.ErrInvalidPath, source, err)
	}
	if !filepath.IsAbs(target) || !filepath.IsAbs(source) {
		return fmt.Errorf("%w: target and source must be absolute (%q, %q)", api.ErrInvalidPath, target, source)
	}

	if n.MountNsPid != 0 {
		if err := nsexec.CheckAlive(n.MountNsPid); err != nil {
			fmt.Printf("[node] mount helper for %s died, restarting\n", n.Name)
			nm.dropHelper(n)
		}
	}
	if n.MountNsPid == 0 {
		if err := nm.startHelper(n); err != nil {
			return err
		}
	}

	for i, m := range n.Mounts {
		if m.Target == target {
			nm.unmountInHelper(n, target)
			n.Mounts = append(n.Mounts[:i], n.Mounts[i+1:]...)
			break
		}
	}

	if err := nm.mountInHelper(n, target, source); err != nil {
		return err
	}
	n.Mounts = append(n.Mounts, api.MountOverride{Target: target, Source: source})
	return nil
}

// startHelper launches a long-lived process that holds a private
// mount namespace inside the node's network namespace. Later Cmd and
// MountOverride calls enter it with nsenter.
func (nm *NamespaceManager) startHelper(n *api.Node) error {
	cmd := exec.Command("ip", "netns", "exec", n.Name,
		"unshare", "--mount", "--propagation", "private",
		"sleep", "infinity")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mount helper for %q: %w", n.Name, err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()

	// The exec chain (ip -> unshare -> sleep) keeps the pid, but the
	// mount namespace only becomes private once unshare has run. Wait
	// until the helper's mnt namespace differs from ours.
	if err := waitHelperReady(pid); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("mount helper for %q: %w", n.Name, err)
	}

	nm.mu.Lock()
	nm.helpers[n.Name] = cmd
	nm.mu.Unlock()
	n.MountNsPid = pid
	return nil
}

func waitHelperReady(pid int) error {
	own, err := os.Readlink("/proc/self/ns/mnt")
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/proc/%d/ns/mnt", pid)
	for i := 0; i < 30; i++ {
		got, err := os.Readlink(path)
		if err == nil && got != own {
			return nil
		}
		if err := nsexec.CheckAlive(pid); err != nil {
			return fmt.Errorf("helper exited before unsharing: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for helper pid %d to unshare", pid)
}

func (nm *NamespaceManager) mountInHelper(n *api.Node, target, source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("%w: source %q: %v", api.ErrInvalidPath, source, err)
	}
	var prep string
	if info.IsDir() {
		prep = fmt.Sprintf("mkdir -p %q", target)
	} else {
		prep = fmt.Sprintf("mkdir -p %q && touch %q", filepath.Dir(target), target)
	}
	mount := fmt.Sprintf("%s && mount --bind %q %q", prep, source, target)

	res, err := nm.runner.RunInHelper(n.MountNsPid, mount)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("bind mount %q over %q in %s: %s", source, target, n.Name, res.Stderr)
	}
	return nil
}

func (nm *NamespaceManager) unmountInHelper(n *api.Node, target string) {
	res, err := nm.runner.RunInHelper(n.MountNsPid, fmt.Sprintf("umount %q", target))
	if err != nil || res.ExitCode != 0 {
		fmt.Printf("[node] umount %s in %s failed (ignored)\n", target, n.Name)
	}
}

func (nm *NamespaceManager) dropHelper(n *api.Node) {
	nm.mu.Lock()
	delete(nm.helpers, n.Name)
	nm.mu.Unlock()
	n.MountNsPid = 0
	n.Mounts = nil
}

// DeleteNode kills the node's mount helper and removes its namespace.
// Interfaces inside die with the namespace. Deleting a node that is
// already gone is a no-op.
func (nm *NamespaceManager) DeleteNode(n *api.Node) error {
	nm.mu.Lock()
	helper := nm.helpers[n.Name]
	delete(nm.helpers, n.Name)
	nm.mu.Unlock()

	if helper != nil && helper.Process != nil {
		_ = helper.Process.Signal(syscall.SIGTERM)
	}
	n.MountNsPid = 0

	if err := netns.DeleteNamed(n.Name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete namespace %q: %w", n.Name, err)
	}
	n.NetNs = ""
	return nil
}
