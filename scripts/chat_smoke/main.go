package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/relaychat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chat_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:8080", "chat address, host:port for TCP or ws://host/ws")
	nick := flag.String("nick", "tester", "nickname to register")
	channel := flag.String("channel", "#general", "channel to join")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := dial(ctx, *addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	r := bufio.NewReader(conn)

	send := func(typ proto.CommandType, params ...string) error {
		data, err := proto.Encode(proto.NewCommand(typ, params...))
		if err != nil {
			return err
		}
		_, err = conn.Write(data)
		return err
	}

	steps := []struct {
		cmd    proto.CommandType
		params []string
		until  func(proto.Envelope) bool
	}{
		{proto.CommandConnect, nil, isResponse},
		{proto.CommandNick, []string{*nick}, isResponse},
		{proto.CommandJoin, []string{*channel}, isEvent(proto.EventUserJoined)},
		{proto.CommandMessage, []string{*channel, *text}, isEvent(proto.EventMessageBroadcast)},
		{proto.CommandList, nil, isResponse},
		{proto.CommandQuit, nil, isResponse},
	}
	for _, step := range steps {
		fmt.Printf("> %s %s\n", step.cmd, strings.Join(step.params, " "))
		if err := send(step.cmd, step.params...); err != nil {
			return fmt.Errorf("send %s: %w", step.cmd, err)
		}
		for {
			env, err := readEnvelope(r)
			if err != nil {
				return fmt.Errorf("read after %s: %w", step.cmd, err)
			}
			printEnvelope(env)
			if resp, ok := env.(proto.Response); ok && !resp.Success {
				return fmt.Errorf("%s failed: %s %s", step.cmd, resp.ErrorCode, resp.Message)
			}
			if step.until(env) {
				break
			}
		}
	}
	return nil
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		ws, _, err := websocket.Dial(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return websocket.NetConn(context.Background(), ws, websocket.MessageText), nil
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func readEnvelope(r *bufio.Reader) (proto.Envelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return proto.Decode(line)
}

func isResponse(env proto.Envelope) bool {
	return env.Kind() == proto.KindResponse
}

func isEvent(t proto.EventType) func(proto.Envelope) bool {
	return func(env proto.Envelope) bool {
		ev, ok := env.(proto.Event)
		return ok && ev.Type == t
	}
}

func printEnvelope(env proto.Envelope) {
	switch v := env.(type) {
	case proto.Response:
		fmt.Printf("< %s success=%t", v.Type, v.Success)
		if v.ErrorCode != "" {
			fmt.Printf(" code=%s", v.ErrorCode)
		}
		fmt.Printf(" %q", v.Message)
		if v.Data != nil {
			fmt.Printf(" data=%+v", v.Data)
		}
		fmt.Println()
	case proto.Event:
		fmt.Printf("< %s %+v\n", v.Type, v.Data)
	default:
		fmt.Printf("< %+v\n", v)
	}
}
