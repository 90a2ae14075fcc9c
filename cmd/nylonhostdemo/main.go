// Command nylonhostdemo drives a simulated plugin over NATS, exercising a
// full unary call and a streamed call without a compiled shared library.
// It is meant as a worked example of wiring a Host, not a production
// entry point.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	nylonring "github.com/AssetsArt/nylon-ring"
	"github.com/AssetsArt/nylon-ring/abi"
	"github.com/AssetsArt/nylon-ring/internal/simplugin"
)

func main() {
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	subject := flag.String("subject", "nylonring.demo", "request subject the simulated plugin listens on")
	flag.Parse()

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	remote, err := simplugin.Dial(*natsURL, *subject, logger)
	if err != nil {
		log.Fatalf("dial simulated plugin: %v", err)
	}
	defer remote.Close()

	remote.Entry("echo", func(sid uint64, req simplugin.RequestFrame, payload []byte, deliver func(abi.Status, []byte, bool)) {
		deliver(abi.StatusOk, append([]byte("echo: "), payload...), true)
	})
	remote.Entry("countdown", func(sid uint64, req simplugin.RequestFrame, payload []byte, deliver func(abi.Status, []byte, bool)) {
		for i := 3; i > 0; i-- {
			deliver(abi.StatusOk, []byte{byte(i)}, false)
			time.Sleep(50 * time.Millisecond)
		}
		deliver(abi.StatusStreamEnd, nil, true)
	})
	if err := remote.Serve(); err != nil {
		log.Fatalf("serve simulated plugin: %v", err)
	}

	conn, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("connect host to NATS: %v", err)
	}
	defer conn.Close()

	host := nylonring.NewHostOverNATS(conn, *subject, nylonring.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	status, body, err := host.CallResponse(ctx, "echo", nil, []byte("hello from the host"))
	cancel()
	if err != nil {
		log.Fatalf("echo call failed: %v", err)
	}
	logger.Info().Str("status", status.String()).Str("body", string(body)).Msg("echo call completed")

	stream, err := host.CallStream("countdown", nil, nil)
	if err != nil {
		log.Fatalf("countdown call failed: %v", err)
	}
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, payload, ok, err := stream.Next(ctx)
		cancel()
		if err != nil {
			log.Fatalf("countdown frame failed: %v", err)
		}
		if !ok {
			break
		}
		logger.Info().Bytes("frame", payload).Msg("countdown frame")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	logger.Info().Msg("demo complete, press ctrl-c to exit")
	<-sig
}
