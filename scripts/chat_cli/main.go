package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"

	"github.com/vovakirdan/relaychat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chat_cli: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:8080", "chat address, host:port for TCP or ws://host/ws")
	nick := flag.String("nick", "cli-user", "nickname")
	channel := flag.String("channel", "#general", "channel to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, err := dial(ctx, *addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	send := func(typ proto.CommandType, params ...string) {
		data, encErr := proto.Encode(proto.NewCommand(typ, params...))
		if encErr != nil {
			log.Printf("encode: %v", encErr)
			return
		}
		if _, writeErr := conn.Write(data); writeErr != nil {
			cancel()
			log.Printf("send: %v", writeErr)
		}
	}

	send(proto.CommandNick, *nick)
	send(proto.CommandJoin, *channel)

	fmt.Printf("Connected to %s as %s in %s\n", *addr, *nick, *channel)
	fmt.Println("Type messages and press Enter to send. Lines starting with / are commands (/join #x, /leave, /list, /nick name, /help, /quit).")

	go func() {
		defer cancel()
		readLoop(conn)
	}()

	writeLoop(ctx, send)

	// Closing the connection unblocks the reader.
	conn.Close()
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

func readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// Treat expected shutdowns quietly.
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("read error: %v", err)
			}
			return
		}
		env, err := proto.Decode(line)
		if err != nil {
			log.Printf("decode: %v", err)
			continue
		}
		printEnvelope(env)
	}
}

func printEnvelope(env proto.Envelope) {
	switch v := env.(type) {
	case proto.Response:
		switch data := v.Data.(type) {
		case proto.ChannelListData:
			fmt.Println("Channels:")
			for _, ch := range data.Channels {
				fmt.Printf("  %s (%d)\n", ch.Name, ch.Members)
			}
		case proto.HelpData:
			for _, c := range data.Commands {
				fmt.Printf("  %-28s %s\n", c.Usage, c.Description)
			}
		default:
			if v.Success {
				fmt.Printf("* %s\n", v.Message)
			} else {
				fmt.Printf("! %s (%s)\n", v.Message, v.ErrorCode)
			}
		}
	case proto.Event:
		switch data := v.Data.(type) {
		case proto.MessageData:
			fmt.Printf("[%s] %s: %s\n", data.Channel, data.Nickname, data.Text)
		case proto.MembershipData:
			verb := "joined"
			if v.Type == proto.EventUserLeft {
				verb = "left"
			}
			fmt.Printf("[%s] %s %s (%d members)\n", data.Channel, data.Nickname, verb, data.MemberCount)
		case proto.NickChangeData:
			fmt.Printf("[%s] %s is now %s\n", data.Channel, data.OldNickname, data.Nickname)
		case proto.ChannelData:
			fmt.Printf("[%s] %s\n", data.Channel, strings.ToLower(strings.ReplaceAll(string(v.Type), "_", " ")))
		}
	}
}

func writeLoop(ctx context.Context, send func(proto.CommandType, ...string)) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if !strings.HasPrefix(text, "/") {
				send(proto.CommandMessage, text)
				continue
			}

			fields := strings.Fields(strings.TrimPrefix(text, "/"))
			if len(fields) == 0 {
				continue
			}
			cmd := proto.CommandType(strings.ToUpper(fields[0]))
			send(cmd, fields[1:]...)
			if cmd == proto.CommandQuit {
				return
			}
		}
	}
}
