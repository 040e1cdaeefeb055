// Command suggest is a one-shot client for the request/response socket
// protocol: it sends a single suggestion query to a running server and
// prints the returned candidates.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/NullWinters/GalChat/internal/gateway"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "socket server address")
	mode := flag.Int("mode", 0, "0 = free-text input, 1 = history lookup")
	input := flag.String("input", "", "conversation text (mode 0)")
	localUser := flag.String("local-user", "", "handle the replies are written for")
	userID := flag.String("user-id", "", "target participant key (mode 1)")
	groupID := flag.String("group-id", "", "room id (mode 1)")
	maxMessages := flag.Int("max-messages", 10, "context window size (mode 1)")
	setDatetime := flag.String("set-datetime", "", `history cutoff, "2006-01-02 15:04:05" (mode 1)`)
	flag.Parse()

	req := gateway.SocketRequest{
		Mode:        *mode,
		InputStr:    *input,
		LocalUser:   *localUser,
		UserID:      *userID,
		GroupID:     *groupID,
		MaxMessages: *maxMessages,
		SetDatetime: *setDatetime,
	}

	conn, err := net.DialTimeout("tcp", *addr, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(60 * time.Second))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}

	var resp gateway.SocketResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		fmt.Fprintf(os.Stderr, "read: %v\n", err)
		os.Exit(1)
	}

	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
		os.Exit(1)
	}

	for i, c := range resp.Contents {
		fmt.Printf("%d. %s (%d)\n", i+1, c.Content, c.Length)
	}
}
