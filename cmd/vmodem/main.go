package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"AT-SOCK/pkg/modemsim"
	"AT-SOCK/pkg/repl"
	"AT-SOCK/pkg/sockets"
)

func main() {
	log := zap.NewNop()
	if len(os.Args) == 2 && os.Args[1] == "--debug" {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		log = l
	} else if len(os.Args) > 1 {
		fmt.Printf("Usage: %s [--debug]\n", os.Args[0])
		os.Exit(1)
	}
	defer log.Sync()

	modem := modemsim.New(log)
	stack := sockets.NewStack(sockets.Config{
		MaxSockets: 6,
		BufferSize: 1024,
	}, modem, log)

	fmt.Println("Socket engine over simulated modem. Commands: sock usock conn bind send sendto recv recvfrom close rm ls poll prune")
	repl.Start(stack, modem)
}
