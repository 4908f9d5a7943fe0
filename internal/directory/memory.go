package directory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/quoted/internal/extraction"
)

// Memory is a Directory held in memory. Listing order is insertion order.
// It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	clients []Client
	byID    map[ID]int
	byEmail map[string]int
	byPhone map[string]int
}

// NewMemory returns a directory over clients. Later duplicates of an id,
// email or phone do not replace the first entry in the lookup indexes.
func NewMemory(clients ...Client) *Memory {
	m := &Memory{
		byID:    map[ID]int{},
		byEmail: map[string]int{},
		byPhone: map[string]int{},
	}
	for _, c := range clients {
		m.Add(c)
	}
	return m
}

type directoryFile struct {
	Clients []Client `yaml:"clients"`
}

// LoadFile reads a YAML file with a top-level "clients" list. A missing
// file yields an empty directory.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	for i, c := range f.Clients {
		if c.ID == "" || strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("directory file %s: client %d needs an id and a name", path, i)
		}
	}
	return NewMemory(f.Clients...), nil
}

// Add appends a client.
func (m *Memory) Add(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.clients)
	m.clients = append(m.clients, c)
	if _, ok := m.byID[c.ID]; !ok {
		m.byID[c.ID] = i
	}
	if e := strings.ToLower(strings.TrimSpace(c.Email)); e != "" {
		if _, ok := m.byEmail[e]; !ok {
			m.byEmail[e] = i
		}
	}
	if p := extraction.NormalizePhone(c.Phone); p != "" {
		if _, ok := m.byPhone[p]; !ok {
			m.byPhone[p] = i
		}
	}
}

// Len returns the number of clients.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Memory) lookup(idx map[string]int, key string) *Client {
	i, ok := idx[key]
	if !ok {
		return nil
	}
	c := m.clients[i]
	return &c
}

func (m *Memory) GetByID(ctx context.Context, id string) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[ID(id)]
	if !ok {
		return nil, nil
	}
	c := m.clients[i]
	return &c, nil
}

func (m *Memory) SearchByEmail(ctx context.Context, email string) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byEmail, strings.ToLower(strings.TrimSpace(email))), nil
}

// SearchByPhone compares numbers in their normalized form, so formatting
// differences between the hint and the stored number do not matter.
func (m *Memory) SearchByPhone(ctx context.Context, phone string) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := extraction.NormalizePhone(phone)
	if p == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byPhone, p), nil
}

func (m *Memory) ListPage(ctx context.Context, page, size int) ([]Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("invalid page %d of size %d", page, size)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := page * size
	if start >= len(m.clients) {
		return nil, nil
	}
	end := min(start+size, len(m.clients))
	return append([]Client(nil), m.clients[start:end]...), nil
}
