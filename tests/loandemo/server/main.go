// Standalone loan-origination subgraph for manual runs against a live
// gateway:
//
//	go run ./tests/loandemo/server -addr :8081
//	go run ./cmd/mutagraph serve -upstream-url http://localhost:8081/graphql ...
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/hanpama/mutagraph/tests/loandemo"
)

func main() {
	addr := flag.String("addr", ":8081", "the address to listen on")
	flag.Parse()

	mux := http.NewServeMux()
	mux.Handle("/graphql", loandemo.NewHandler())

	log.Printf("loandemo subgraph starting on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
