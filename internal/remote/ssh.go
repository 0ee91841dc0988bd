package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/inventory"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOptions configures authentication and host key checking.
type SSHOptions struct {
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	UseAgent                    bool
	Timeout                     time.Duration
}

// SSHOptionsFromConfig resolves the [ssh] table, expanding ~ and reading the
// key passphrase from the named environment variable.
func SSHOptionsFromConfig(cfg config.SSHConfig) SSHOptions {
	opts := SSHOptions{
		KeyPath:                     expandHome(cfg.KeyPath),
		KnownHostsPath:              expandHome(cfg.KnownHosts),
		InsecureSkipHostKeyChecking: cfg.InsecureSkipHostKeyCheck,
		UseAgent:                    cfg.UseAgent,
		Timeout:                     cfg.Timeout.Duration,
	}
	if env := strings.TrimSpace(cfg.PassphraseEnv); env != "" {
		if v := os.Getenv(env); v != "" {
			opts.Passphrase = []byte(v)
		}
	}
	return opts
}

// SSHExecutor runs commands over SSH. One client connection is kept per host
// and shared by every command sent to it; each command gets its own session.
type SSHExecutor struct {
	opts SSHOptions

	mu    sync.Mutex
	slots map[string]*hostSlot

	// agentClient is shared by every dial; a second client on agentConn
	// would interleave requests on the socket.
	authMu      sync.Mutex
	agentConn   net.Conn
	agentClient agent.ExtendedAgent
	hostKeys    ssh.HostKeyCallback
}

// hostSlot serializes dialing per host so hosts connect in parallel.
type hostSlot struct {
	mu     sync.Mutex
	client *ssh.Client
}

func NewSSHExecutor(opts SSHOptions) *SSHExecutor {
	return &SSHExecutor{
		opts:  opts,
		slots: make(map[string]*hostSlot),
	}
}

func (e *SSHExecutor) Run(ctx context.Context, host inventory.Host, command string) (Result, error) {
	res := Result{Host: host.String(), Command: command}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	start := time.Now()
	session, client, err := e.session(host)
	if err != nil {
		return res, fmt.Errorf("ssh %s: %w", host, err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(command)
	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	if runErr == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		return commandResult(res, nil)
	}

	// The connection is no longer trustworthy; the next command redials.
	e.evict(host, client)
	res.ExitStatus = -1
	return res, &CommandError{
		Host:       res.Host,
		Command:    command,
		ExitStatus: res.ExitStatus,
		Stderr:     runErr.Error(),
	}
}

func (e *SSHExecutor) Test(ctx context.Context, host inventory.Host, command string) (bool, error) {
	return testViaRun(ctx, e, host, command)
}

// Close tears down every pooled connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	slots := e.slots
	e.slots = make(map[string]*hostSlot)
	e.mu.Unlock()

	var errs []error
	for key, slot := range slots {
		slot.mu.Lock()
		if slot.client != nil {
			if err := slot.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, fmt.Errorf("close %s: %w", key, err))
			}
			slot.client = nil
		}
		slot.mu.Unlock()
	}

	e.authMu.Lock()
	if e.agentConn != nil {
		if err := e.agentConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		e.agentConn = nil
	}
	e.agentClient = nil
	e.authMu.Unlock()
	return errors.Join(errs...)
}

// session opens a session on the pooled client, redialing once when the
// pooled connection has gone stale.
func (e *SSHExecutor) session(host inventory.Host) (*ssh.Session, *ssh.Client, error) {
	client, err := e.client(host)
	if err != nil {
		return nil, nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return session, client, nil
	}

	e.evict(host, client)
	client, err = e.client(host)
	if err != nil {
		return nil, nil, err
	}
	session, err = client.NewSession()
	if err != nil {
		e.evict(host, client)
		return nil, nil, err
	}
	return session, client, nil
}

func (e *SSHExecutor) slot(host inventory.Host) *hostSlot {
	key := host.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.slots[key]
	if !ok {
		slot = &hostSlot{}
		e.slots[key] = slot
	}
	return slot
}

func (e *SSHExecutor) client(host inventory.Host) (*ssh.Client, error) {
	slot := e.slot(host)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.client != nil {
		return slot.client, nil
	}
	client, err := e.dial(host)
	if err != nil {
		return nil, err
	}
	slot.client = client
	return client, nil
}

func (e *SSHExecutor) evict(host inventory.Host, client *ssh.Client) {
	slot := e.slot(host)

	slot.mu.Lock()
	if slot.client == client {
		slot.client = nil
	}
	slot.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

func (e *SSHExecutor) dial(host inventory.Host) (*ssh.Client, error) {
	address, err := dialAddress(host)
	if err != nil {
		return nil, err
	}

	clientCfg, err := e.clientConfig(host)
	if err != nil {
		return nil, err
	}

	if e.opts.Timeout <= 0 {
		return ssh.Dial("tcp", address, clientCfg)
	}

	conn, err := net.DialTimeout("tcp", address, e.opts.Timeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func dialAddress(host inventory.Host) (string, error) {
	addr := strings.TrimSpace(host.Address)
	if addr == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	port := host.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(addr, strconv.Itoa(port)), nil
}

func (e *SSHExecutor) clientConfig(host inventory.Host) (*ssh.ClientConfig, error) {
	if strings.TrimSpace(host.User) == "" {
		return nil, fmt.Errorf("ssh user is required for %s", host.Address)
	}

	e.authMu.Lock()
	defer e.authMu.Unlock()

	auth, err := e.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := e.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.opts.Timeout,
	}, nil
}

func (e *SSHExecutor) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if e.opts.KeyPath != "" {
		signer, err := e.signer()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if e.opts.UseAgent {
		if e.agentClient == nil {
			sock := os.Getenv("SSH_AUTH_SOCK")
			if sock != "" {
				conn, err := net.Dial("unix", sock)
				if err != nil {
					return nil, fmt.Errorf("ssh agent: %w", err)
				}
				e.agentConn = conn
				e.agentClient = agent.NewClient(conn)
			}
		}
		if e.agentClient != nil {
			methods = append(methods, ssh.PublicKeysCallback(e.agentClient.Signers))
		}
	}

	if len(methods) == 0 {
		return nil, ErrNoAuth
	}
	return methods, nil
}

func (e *SSHExecutor) signer() (ssh.Signer, error) {
	privateKey, err := os.ReadFile(e.opts.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(e.opts.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, e.opts.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (e *SSHExecutor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.opts.InsecureSkipHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if e.hostKeys != nil {
		return e.hostKeys, nil
	}

	path := strings.TrimSpace(e.opts.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, err
	}
	e.hostKeys = callback
	return callback, nil
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
