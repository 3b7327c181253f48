package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/udpkv/internal/protocol"
)

// parseCommand builds one command from positional args, e.g. ["write", "5", "7"].
func parseCommand(args []string) (protocol.Command, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing command")
	}
	name := strings.ToLower(args[0])
	rest := args[1:]
	want := map[string]int{"nop": 0, "echo": 1, "read": 1, "write": 2}
	n, ok := want[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
	if len(rest) != n {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", name, n, len(rest))
	}

	switch name {
	case "echo":
		v, err := parseValue(rest[0])
		if err != nil {
			return nil, err
		}
		return protocol.Echo{Value: v}, nil
	case "read":
		k, err := parseKey(rest[0])
		if err != nil {
			return nil, err
		}
		return protocol.Read{Key: k}, nil
	case "write":
		k, err := parseKey(rest[0])
		if err != nil {
			return nil, err
		}
		v, err := parseValue(rest[1])
		if err != nil {
			return nil, err
		}
		return protocol.Write{Key: k, Value: v}, nil
	default:
		return protocol.Nop{}, nil
	}
}

// parseBatch parses colon-separated commands such as "write:1:10 read:1 echo:5 nop".
func parseBatch(tokens []string) ([]protocol.Command, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("batch needs at least one command")
	}
	cmds := make([]protocol.Command, 0, len(tokens))
	for i, tok := range tokens {
		cmd, err := parseCommand(strings.Split(tok, ":"))
		if err != nil {
			return nil, fmt.Errorf("batch[%d] %q: %w", i, tok, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func describe(cmd protocol.Command) string {
	switch c := cmd.(type) {
	case protocol.Echo:
		return fmt.Sprintf("echo %d", c.Value)
	case protocol.Read:
		return fmt.Sprintf("read %d", c.Key)
	case protocol.Write:
		return fmt.Sprintf("write %d %d", c.Key, c.Value)
	case protocol.Nop:
		return "nop"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}

func parseKey(raw string) (uint32, error) {
	k, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: %w", raw, err)
	}
	return uint32(k), nil
}

func parseValue(raw string) (int32, error) {
	v, err := strconv.ParseInt(raw, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	return int32(v), nil
}
