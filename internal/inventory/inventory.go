// Package inventory resolves role names to the ordered host lists a run
// targets.
//
// Ownership boundary:
// - host identity (address, user, port)
//
// - role membership
//
// The inventory is built once per run and is read-only afterwards.
package inventory

import (
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/deployctl/internal/config"
)

// RoleAll is the implicit role holding every host.
const RoleAll = "all"

// Well-known roles consumed by the built-in tasks.
const (
	RoleWeb  = "web"
	RoleJobs = "jobs"
)

// Host is one deploy target.
type Host struct {
	Name    string
	Address string
	User    string
	Port    int
	Local   bool
	Roles   []string
}

// String renders user@address:port, the form used in logs and errors.
func (h Host) String() string {
	hostPort := net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
	if h.User == "" {
		return hostPort
	}
	return h.User + "@" + hostPort
}

// HasRole reports whether the host belongs to role. Every host has RoleAll.
func (h Host) HasRole(role string) bool {
	return role == RoleAll || slices.Contains(h.Roles, role)
}

// Inventory maps role names to ordered hosts.
type Inventory struct {
	hosts []Host
	roles map[string][]int
}

// New builds an inventory from server entries, filling user and port from
// the ssh defaults. Hosts keep declaration order; the same address and port
// listed twice is merged into one host carrying the union of roles.
func New(servers []config.ServerConfig, defaults config.SSHConfig) (*Inventory, error) {
	inv := &Inventory{roles: make(map[string][]int)}
	byTarget := make(map[string]int, len(servers))

	for i, srv := range servers {
		if err := config.ValidateServer(srv); err != nil {
			return nil, fmt.Errorf("server[%d] invalid: %w", i, err)
		}
		host, err := hostFromServer(srv, defaults)
		if err != nil {
			return nil, fmt.Errorf("server[%d] invalid: %w", i, err)
		}

		target := net.JoinHostPort(host.Address, strconv.Itoa(host.Port))
		idx, seen := byTarget[target]
		if !seen {
			idx = len(inv.hosts)
			byTarget[target] = idx
			inv.hosts = append(inv.hosts, Host{
				Name:    host.Name,
				Address: host.Address,
				User:    host.User,
				Port:    host.Port,
				Local:   host.Local,
			})
		}
		for _, role := range host.Roles {
			if role == RoleAll || slices.Contains(inv.hosts[idx].Roles, role) {
				continue
			}
			inv.hosts[idx].Roles = append(inv.hosts[idx].Roles, role)
			inv.roles[role] = append(inv.roles[role], idx)
		}
	}
	return inv, nil
}

func hostFromServer(srv config.ServerConfig, defaults config.SSHConfig) (Host, error) {
	address := strings.TrimSpace(srv.Address)
	user := srv.User
	port := srv.Port

	if at := strings.LastIndex(address, "@"); at >= 0 {
		if user == "" {
			user = address[:at]
		}
		address = address[at+1:]
	}
	if h, p, err := net.SplitHostPort(address); err == nil {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed <= 0 || parsed > 65535 {
			return Host{}, fmt.Errorf("invalid port in address %q", srv.Address)
		}
		address = h
		if port == 0 {
			port = parsed
		}
	}
	if address == "" {
		return Host{}, fmt.Errorf("empty host in address %q", srv.Address)
	}
	if user == "" {
		user = defaults.User
	}
	if port == 0 {
		port = defaults.Port
	}
	if port == 0 {
		port = 22
	}

	return Host{
		Name:    address,
		Address: address,
		User:    user,
		Port:    port,
		Local:   srv.Local,
		Roles:   slices.Clone(srv.Roles),
	}, nil
}

// Select returns the hosts for role in declaration order. An unknown role
// yields an empty list.
func (inv *Inventory) Select(role string) []Host {
	if inv == nil {
		return nil
	}
	if role == RoleAll {
		return inv.All()
	}
	idxs := inv.roles[role]
	out := make([]Host, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, cloneHost(inv.hosts[idx]))
	}
	return out
}

// All returns every host in declaration order.
func (inv *Inventory) All() []Host {
	if inv == nil {
		return nil
	}
	out := make([]Host, 0, len(inv.hosts))
	for _, h := range inv.hosts {
		out = append(out, cloneHost(h))
	}
	return out
}

// Roles lists declared roles sorted by name, RoleAll included.
func (inv *Inventory) Roles() []string {
	if inv == nil {
		return nil
	}
	out := make([]string, 0, len(inv.roles)+1)
	out = append(out, RoleAll)
	for role := range inv.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func cloneHost(h Host) Host {
	h.Roles = slices.Clone(h.Roles)
	return h
}
