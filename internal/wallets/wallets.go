package wallets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"polysignal/internal/store"
)

var (
	ErrExists   = errors.New("wallet already tracked")
	ErrNotFound = errors.New("wallet not tracked")
)

// Wallet is one tracked trader.
type Wallet struct {
	Name   string `yaml:"name"`
	Wallet string `yaml:"wallet"`
}

type file struct {
	TrackedUsers []Wallet `yaml:"tracked_users"`
}

// Registry is the tracked wallet list backed by a YAML file. Addresses are
// matched case-insensitively and every mutation is written through.
type Registry struct {
	mu    sync.RWMutex
	path  string
	users []Wallet
}

// Load reads the registry at path. A missing file yields an empty registry
// that is created on the first mutation.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	users, err := readFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	r.users = users
	return r, nil
}

// readFile accepts YAML and, being a YAML subset, JSON.
func readFile(path string) ([]Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing wallets file %s: %w", path, err)
	}
	out := make([]Wallet, 0, len(f.TrackedUsers))
	for _, u := range f.TrackedUsers {
		u.Wallet = strings.TrimSpace(u.Wallet)
		if u.Wallet == "" {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *Registry) save() error {
	data, err := yaml.Marshal(file{TrackedUsers: r.users})
	if err != nil {
		return fmt.Errorf("encoding wallets: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating wallets directory: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing wallets: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func (r *Registry) index(addr string) int {
	for i, u := range r.users {
		if strings.EqualFold(u.Wallet, strings.TrimSpace(addr)) {
			return i
		}
	}
	return -1
}

// All returns a copy of the tracked wallets in insertion order.
func (r *Registry) All() []Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Wallet(nil), r.users...)
}

// Addresses returns the lower-cased addresses.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, strings.ToLower(u.Wallet))
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) Lookup(addr string) (Wallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.index(addr); i >= 0 {
		return r.users[i], true
	}
	return Wallet{}, false
}

func (r *Registry) IsTracked(addr string) bool {
	_, ok := r.Lookup(addr)
	return ok
}

// DisplayName returns the wallet's name, or a shortened address for unknown
// wallets.
func (r *Registry) DisplayName(addr string) string {
	if w, ok := r.Lookup(addr); ok && w.Name != "" {
		return w.Name
	}
	if len(addr) > 10 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}

func (r *Registry) Add(name, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty wallet address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index(addr) >= 0 {
		return fmt.Errorf("%w: %s", ErrExists, addr)
	}
	r.users = append(r.users, Wallet{Name: name, Wallet: addr})
	return r.save()
}

func (r *Registry) Remove(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(addr)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	r.users = append(r.users[:i], r.users[i+1:]...)
	return r.save()
}

func (r *Registry) Rename(addr, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(addr)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	r.users[i].Name = name
	return r.save()
}

// Import merges the wallets listed in another YAML or JSON file and returns
// how many were new.
func (r *Registry) Import(path string) (int, error) {
	incoming, err := readFile(path)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, u := range incoming {
		if r.index(u.Wallet) >= 0 {
			continue
		}
		r.users = append(r.users, u)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, r.save()
}

// Sync mirrors the registry into the store's tracked_wallets table.
func (r *Registry) Sync(ctx context.Context, s *store.Store) error {
	all := r.All()
	records := make([]store.TrackedWallet, 0, len(all))
	for _, u := range all {
		records = append(records, store.TrackedWallet{Address: u.Wallet, Name: u.Name})
	}
	return s.SyncWallets(ctx, records)
}
