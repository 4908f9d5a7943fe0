// Package directory provides clients for the external customer directory.
//
// A Directory answers four lookups. The single-record lookups return a nil
// *Client with a nil error when nothing matches; an error always means the
// directory could not be asked.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/logging"
)

// ID identifies a client. Directories may send it as a JSON string or number.
type ID string

// UnmarshalJSON accepts both "42" and 42.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Client is a customer entry.
type Client struct {
	ID    ID     `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Directory is the external customer directory.
//
// ListPage returns clients in an order that is stable for the lifetime of
// one resolution; page numbers start at 0 and a short page is the last one.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Client, error)
	SearchByEmail(ctx context.Context, email string) (*Client, error)
	SearchByPhone(ctx context.Context, phone string) (*Client, error)
	ListPage(ctx context.Context, page, size int) ([]Client, error)
}

// Open builds the directory selected by cfg.
func Open(ctx context.Context, cfg config.DirectoryConfig, logger *logging.Logger) (Directory, error) {
	switch cfg.Kind {
	case "http":
		d, err := NewHTTP(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "file", "":
		m, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown directory kind: %s", cfg.Kind)
	}
}
