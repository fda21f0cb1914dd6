package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// Injects one alert into a running bot over the local signal socket.
//
//	send_signal [addr] <type> <symbol> [price] [title]
//	send_signal 110 BTC 65000 "Breakout watch"
//	send_signal 127.0.0.1:8765 113 ETH
func main() {
	args := os.Args[1:]
	addr := "127.0.0.1:8765"
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			addr = args[0]
			args = args[1:]
		}
	}
	if len(args) < 2 {
		fmt.Println("usage: send_signal [addr] <type> <symbol> [price] [title]")
		os.Exit(1)
	}

	msgType, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Invalid message type %q: %v\n", args[0], err)
		os.Exit(1)
	}

	msg := map[string]interface{}{
		"type":   msgType,
		"id":     uuid.NewString(),
		"symbol": args[1],
	}
	if len(args) > 2 {
		price, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fmt.Printf("Invalid price %q: %v\n", args[2], err)
			os.Exit(1)
		}
		msg["price"] = price
	}
	if len(args) > 3 {
		msg["title"] = args[3]
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Printf("❌ Failed to connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	line, err := json.Marshal(msg)
	if err != nil {
		fmt.Printf("❌ Failed to encode signal: %v\n", err)
		os.Exit(1)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		fmt.Printf("❌ Failed to send signal: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Sent type=%d id=%s symbol=%s to %s\n", msgType, msg["id"], args[1], addr)
}
