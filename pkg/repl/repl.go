package repl

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"AT-SOCK/pkg/modemsim"
	"AT-SOCK/pkg/sockets"
)

// Start runs the interactive command loop over the socket engine. The
// simulator's queued events are delivered on "poll", mirroring the real
// driver loop where URCs are drained explicitly.
func Start(st *sockets.Stack, modem *modemsim.Modem) {
	reader := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !reader.Scan() {
			break
		}
		input := strings.TrimSpace(reader.Text())

		if input == "sock" {
			h, err := st.NewStreamSocket()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("Created stream socket %s\n", h)
		} else if input == "usock" {
			h, err := st.NewDatagramSocket()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("Created datagram socket %s\n", h)
		} else if strings.HasPrefix(input, "conn") {
			parts := strings.SplitN(input, " ", 3)
			if len(parts) != 3 {
				fmt.Println("Usage: conn <handle> <addr:port>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			remote, err := netip.ParseAddrPort(parts[2])
			if err != nil {
				fmt.Printf("Invalid endpoint: %v\n", err)
				continue
			}
			if err := st.Connect(h, remote); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Println("Connecting... (run poll to deliver the confirmation)")
		} else if strings.HasPrefix(input, "bind") {
			parts := strings.SplitN(input, " ", 3)
			if len(parts) != 3 {
				fmt.Println("Usage: bind <handle> <port, 0 for ephemeral>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			port, err := strconv.ParseUint(parts[2], 10, 16)
			if err != nil {
				fmt.Printf("Invalid port: %v\n", err)
				continue
			}
			if err := st.Bind(h, uint16(port)); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		} else if strings.HasPrefix(input, "listen") {
			parts := strings.SplitN(input, " ", 3)
			if len(parts) != 3 {
				fmt.Println("Usage: listen <handle> <port>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			port, err := strconv.ParseUint(parts[2], 10, 16)
			if err != nil {
				fmt.Printf("Invalid port: %v\n", err)
				continue
			}
			if err := st.Listen(h, uint16(port)); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("Listening on port %d\n", port)
		} else if strings.HasPrefix(input, "accept") {
			parts := strings.SplitN(input, " ", 2)
			if len(parts) != 2 {
				fmt.Println("Usage: accept <handle>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			conn, from, err := st.Accept(h)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("Accepted %s from %s\n", conn, from)
		} else if strings.HasPrefix(input, "sendto") {
			parts := strings.SplitN(input, " ", 4)
			if len(parts) != 4 {
				fmt.Println("Usage: sendto <handle> <addr:port> <message>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			remote, err := netip.ParseAddrPort(parts[2])
			if err != nil {
				fmt.Printf("Invalid endpoint: %v\n", err)
				continue
			}
			if err := st.SendTo(h, remote, []byte(parts[3])); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		} else if strings.HasPrefix(input, "send") {
			parts := strings.SplitN(input, " ", 3)
			if len(parts) != 3 {
				fmt.Println("Usage: send <handle> <message>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			if err := st.Send(h, []byte(parts[2])); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		} else if strings.HasPrefix(input, "recvfrom") {
			parts := strings.SplitN(input, " ", 2)
			if len(parts) != 2 {
				fmt.Println("Usage: recvfrom <handle>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			data, from, err := st.RecvFrom(h, 1024)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			if len(data) == 0 {
				fmt.Println("No data (run poll first?)")
				continue
			}
			fmt.Printf("Read %d bytes from %s: %q\n", len(data), from, data)
		} else if strings.HasPrefix(input, "recv") {
			parts := strings.SplitN(input, " ", 2)
			if len(parts) != 2 {
				fmt.Println("Usage: recv <handle>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			data, err := st.Recv(h, 1024)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			if len(data) == 0 {
				fmt.Println("No data (run poll first?)")
				continue
			}
			fmt.Printf("Read %d bytes: %q\n", len(data), data)
		} else if strings.HasPrefix(input, "close") {
			parts := strings.SplitN(input, " ", 2)
			if len(parts) != 2 {
				fmt.Println("Usage: close <handle>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			if err := st.Close(h); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		} else if strings.HasPrefix(input, "rm") {
			parts := strings.SplitN(input, " ", 2)
			if len(parts) != 2 {
				fmt.Println("Usage: rm <handle>")
				continue
			}
			h, ok := parseHandle(parts[1])
			if !ok {
				continue
			}
			if _, err := st.Remove(h); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		} else if input == "ls" {
			w := tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', 0)
			fmt.Fprintln(w, "SID\tType\tState\tRemote\tAvail")
			st.Set().Iter(func(h sockets.Handle, sock sockets.Socket) bool {
				state := ""
				switch s := sock.(type) {
				case *sockets.TCPSocket:
					state = s.State().String()
				case *sockets.UDPSocket:
					state = s.State().String()
				}
				remote := ""
				if ep := sock.RemoteEndpoint(); ep.IsValid() {
					remote = ep.String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
					int(h), sock.Type(), state, remote, sock.Available())
				return true
			})
			w.Flush()
		} else if input == "poll" {
			n := modem.Flush(st)
			fmt.Printf("Delivered %d events\n", n)
		} else if strings.HasPrefix(input, "prune") {
			parts := strings.SplitN(input, " ", 2)
			idle := 60 * time.Second
			if len(parts) == 2 {
				secs, err := strconv.Atoi(parts[1])
				if err != nil {
					fmt.Printf("Invalid seconds: %v\n", err)
					continue
				}
				idle = time.Duration(secs) * time.Second
			}
			n := st.Prune(time.Now(), idle)
			fmt.Printf("Pruned %d sockets\n", n)
		} else if input != "" {
			fmt.Println("Commands: sock usock conn bind listen accept send sendto recv recvfrom close rm ls poll prune")
		}
	}
}

func parseHandle(s string) (sockets.Handle, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Printf("Invalid handle: %v\n", err)
		return sockets.NoHandle, false
	}
	return sockets.Handle(n), true
}
