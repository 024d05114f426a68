// Command kv-cli is a blocking client for the key-value server: ping,
// get, and set subcommands over a single connection.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/kstaniek/resp-kv-server/internal/kvclient"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 6379, "server port")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	client, err := kvclient.Connect(*host, *port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer client.Close()

	switch args[0] {
	case "ping":
		runPing(client)
	case "get":
		runGet(client, args[1:])
	case "set":
		runSet(client, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kv-cli [--host H] [--port P] <ping|get|set> ...")
	fmt.Fprintln(os.Stderr, "  ping")
	fmt.Fprintln(os.Stderr, "  get <key>")
	fmt.Fprintln(os.Stderr, "  set <key> <value> [expiration_ms]")
}

func runPing(c *kvclient.Client) {
	resp, err := c.Ping()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(resp)
}

func runGet(c *kvclient.Client, args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	value, ok, err := c.Get(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("nil")
		return
	}
	if utf8.Valid(value) {
		fmt.Println(string(value))
	} else {
		fmt.Printf("%v\n", value)
	}
}

func runSet(c *kvclient.Client, args []string) {
	if len(args) < 2 || len(args) > 3 {
		usage()
		os.Exit(2)
	}
	key, value := args[0], args[1]

	var ttl *time.Duration
	if len(args) == 3 {
		ms, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: invalid expiration_ms:", err)
			os.Exit(2)
		}
		// expiration_ms is parsed as milliseconds; the wire protocol only
		// carries whole seconds, so kvclient.Set truncates it.
		d := time.Duration(ms) * time.Millisecond
		ttl = &d
	}

	if err := c.Set(key, []byte(value), ttl); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}
