package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/testutil/testlog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// startAgent serves an in-memory keyring on a unix socket and points
// SSH_AUTH_SOCK at it.
func startAgent(t *testing.T) ssh.PublicKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyring := agent.NewKeyring()
	if err := keyring.Add(agent.AddedKey{PrivateKey: priv}); err != nil {
		t.Fatalf("add key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	dir, err := os.MkdirTemp("", "agent")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "agent.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen agent: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = agent.ServeAgent(keyring, conn)
			}()
		}
	}()

	t.Setenv("SSH_AUTH_SOCK", sock)
	return signer.PublicKey()
}

// startSSHD accepts sessions authenticated by allowed and answers every exec
// with exit status 0.
func startSSHD(t *testing.T, allowed ssh.PublicKey) int {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) != string(allowed.Marshal()) {
				return nil, ErrNoAuth
			}
			return nil, nil
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen sshd: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(nc, cfg)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveSSHConn(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range creqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				_ = req.Reply(true, nil)
				status := struct{ Status uint32 }{0}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
				ch.Close()
				return
			}
		}()
	}
}

func TestSSHAgentAuthAcrossParallelHosts(t *testing.T) {
	testlog.Start(t)
	pub := startAgent(t)

	const hosts = 12
	targets := make([]inventory.Host, 0, hosts)
	for i := 0; i < hosts; i++ {
		targets = append(targets, inventory.Host{
			Address: "127.0.0.1",
			User:    "deploy",
			Port:    startSSHD(t, pub),
		})
	}

	exec := NewSSHExecutor(SSHOptions{
		UseAgent:                    true,
		InsecureSkipHostKeyChecking: true,
		Timeout:                     5 * time.Second,
	})
	defer exec.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for round := 0; round < 2; round++ {
		var wg sync.WaitGroup
		errs := make(chan error, hosts)
		for _, host := range targets {
			host := host
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := exec.Run(ctx, host, "true"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("round %d: run over agent auth: %v", round, err)
		}
	}

	exec.mu.Lock()
	pooled := len(exec.slots)
	exec.mu.Unlock()
	if pooled != hosts {
		t.Fatalf("expected one pooled client per host, got %d", pooled)
	}
}
