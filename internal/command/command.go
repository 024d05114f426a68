// Package command decodes a respio.Frame into the server's command
// set and executes it against a kvstore.Store, producing the reply
// frame to write back to the client.
package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/kvstore"
	"github.com/kstaniek/resp-kv-server/internal/respio"
)

// Kind identifies which Command variant is populated.
type Kind int

const (
	KindPing Kind = iota
	KindGet
	KindSet
	KindUnknown
)

// Command is the decoded, typed representation of a client request.
type Command struct {
	Kind  Kind
	Name  string // populated for KindUnknown
	Key   string
	Value []byte
	TTL   *time.Duration // nil means no expiration
}

// Decode turns a Frame into a Command. f must be a Frame::Array whose
// first element names the command.
func Decode(f respio.Frame) (Command, error) {
	p, err := respio.NewArgParser(f)
	if err != nil {
		return Command{}, fmt.Errorf("command: %w", err)
	}

	name, err := p.NextString()
	if err != nil {
		return Command{}, fmt.Errorf("command: missing command name: %w", err)
	}

	switch strings.ToLower(name) {
	case "ping":
		if err := p.Finished(); err != nil {
			return Command{}, fmt.Errorf("command: ping: %w", err)
		}
		return Command{Kind: KindPing}, nil

	case "get":
		key, err := p.NextString()
		if err != nil {
			return Command{}, fmt.Errorf("command: get: missing key: %w", err)
		}
		if err := p.Finished(); err != nil {
			return Command{}, fmt.Errorf("command: get: %w", err)
		}
		return Command{Kind: KindGet, Key: key}, nil

	case "set":
		key, err := p.NextString()
		if err != nil {
			return Command{}, fmt.Errorf("command: set: missing key: %w", err)
		}
		value, err := p.NextBytes()
		if err != nil {
			return Command{}, fmt.Errorf("command: set: missing value: %w", err)
		}
		cmd := Command{Kind: KindSet, Key: key, Value: value}
		seconds, err := p.NextInt()
		switch {
		case err == nil:
			ttl := time.Duration(seconds) * time.Second
			cmd.TTL = &ttl
		case !errors.Is(err, respio.ErrEndOfStream):
			return Command{}, fmt.Errorf("command: set: ttl: %w", err)
		}
		if err := p.Finished(); err != nil {
			return Command{}, fmt.Errorf("command: set: %w", err)
		}
		return cmd, nil

	default:
		return Command{Kind: KindUnknown, Name: name}, nil
	}
}

// Execute runs cmd against store and returns the reply frame.
func Execute(cmd Command, store *kvstore.Store) respio.Frame {
	switch cmd.Kind {
	case KindPing:
		return respio.Simple("pong")

	case KindGet:
		value, ok := store.Get(cmd.Key)
		if !ok {
			return respio.Nil
		}
		return respio.ArrayOf(respio.BulkOf(value))

	case KindSet:
		store.Set(cmd.Key, cmd.Value, cmd.TTL)
		return respio.Simple("OK")

	default:
		return respio.Simple(fmt.Sprintf("error: unknown command '%s'", cmd.Name))
	}
}
