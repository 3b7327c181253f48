package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/udpkv/internal/client"
	"github.com/danmuck/udpkv/internal/logging"
	"github.com/danmuck/udpkv/internal/protocol"
	"github.com/rs/zerolog/log"
)

type options struct {
	addr     string
	servers  string
	timeout  time.Duration
	retries  int
	logLevel string
	args     []string
}

func main() {
	opts := parseFlags()
	logging.ConfigureRuntime()
	if opts.logLevel != "" && !logging.SetLevel(opts.logLevel) {
		fatalf("unknown log level %q", opts.logLevel)
	}
	if len(opts.args) == 0 {
		fatalf("missing command (nop | echo V | read K | write K V | batch CMD...)")
	}

	clientOpts := client.DefaultOptions()
	clientOpts.Timeout = opts.timeout
	clientOpts.Retries = opts.retries

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout(clientOpts))
	defer cancel()

	if opts.args[0] == "batch" {
		if err := runBatch(ctx, opts, clientOpts); err != nil {
			fatalf("%v", err)
		}
		return
	}

	cmd, err := parseCommand(opts.args)
	if err != nil {
		fatalf("%v", err)
	}
	doer, closeFn, err := connect(opts, clientOpts)
	if err != nil {
		fatalf("%v", err)
	}
	defer closeFn()

	resp, err := doer.Do(ctx, cmd)
	if err != nil {
		fatalf("%s: %v", cmd.Opcode(), err)
	}
	printResponse(cmd, resp)
}

// callSlack covers scheduling on top of the client's worst case.
const callSlack = 50 * time.Millisecond

// callTimeout bounds one kvctl invocation so every retry and backoff wait fits.
func callTimeout(opts client.Options) time.Duration {
	return opts.Budget() + callSlack
}

type doer interface {
	Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
}

func connect(opts options, clientOpts client.Options) (doer, func(), error) {
	if servers := splitServers(opts.servers); len(servers) > 0 {
		sharded, err := client.DialSharded(servers, clientOpts)
		if err != nil {
			return nil, nil, err
		}
		return sharded, func() { _ = sharded.Close() }, nil
	}
	c, err := client.Dial(opts.addr, clientOpts)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func runBatch(ctx context.Context, opts options, clientOpts client.Options) error {
	if splitServers(opts.servers) != nil {
		return errors.New("batch runs against a single -addr")
	}
	cmds, err := parseBatch(opts.args[1:])
	if err != nil {
		return err
	}
	c, err := client.Dial(opts.addr, clientOpts)
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.Pipeline(ctx, cmds)
	if err != nil {
		return err
	}
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Printf("%s: error: %v\n", describe(res.Command), res.Err)
			continue
		}
		if res.Response.Present {
			fmt.Printf("%s: %d\n", describe(res.Command), res.Response.Value)
		} else {
			fmt.Printf("%s: sent\n", describe(res.Command))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands failed", failed, len(results))
	}
	return nil
}

func printResponse(cmd protocol.Command, resp protocol.Response) {
	if resp.Present {
		fmt.Println(resp.Value)
		return
	}
	log.Debug().Str("op", cmd.Opcode().String()).Msg("sent, no reply expected")
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:31337", "server address")
	flag.StringVar(&opts.servers, "servers", "", "comma-separated server addresses; keys are sharded across them")
	flag.DurationVar(&opts.timeout, "timeout", 500*time.Millisecond, "reply timeout per attempt")
	flag.IntVar(&opts.retries, "retries", 2, "retries for echo/read on timeout")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "trace | debug | info | warn | error | off")
	flag.Parse()
	opts.args = flag.Args()
	return opts
}

func splitServers(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "kvctl: "+format+"\n", args...)
	os.Exit(1)
}
