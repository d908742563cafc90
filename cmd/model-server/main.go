package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/model/remote"
	"github.com/banshee-data/pointgen/internal/version"
)

var (
	listen      = flag.String("listen", "localhost:50051", "gRPC listen address")
	devMode     = flag.Bool("dev", false, "Serve the procedural backend")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("model-server"))
		return
	}
	if !*devMode {
		// Accelerator backends run out of process and speak the same
		// service; this binary only hosts the procedural one.
		log.Fatal("only the procedural backend is built in; pass -dev")
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *listen, err)
	}

	grpcServer := grpc.NewServer(remote.ServerOptions()...)
	remote.NewServer(model.NewProceduralBackend()).Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Print("[model-server] shutting down")
		grpcServer.GracefulStop()
	}()

	log.Printf("[model-server] serving pointgen.Decoder on %s", lis.Addr())
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
