package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/Spruked/promethean-echo/sdk/go/promethean"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/mint", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(promethean.MintResult{
				RequestID:       "req-demo",
				TokenID:         1,
				MetadataURI:     "ipfs://bafybeigdemo",
				TransactionHash: "0xdeadbeef",
				Status:          "succeeded",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/mints/req-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(promethean.MintRecord{
			ID:     "req-demo",
			Title:  "Demo",
			Status: "succeeded",
			Outcome: &promethean.MintOutcome{
				TokenID:     1,
				MetadataURI: "ipfs://bafybeigdemo",
				TxHash:      "0xdeadbeef",
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := promethean.NewClient(srv.URL, "demo-key", srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Mint(ctx, promethean.MintRequest{
		Title:       "Demo",
		Description: "A demonstration token minted against a stub server.",
		Tags:        []string{"demo"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("minted token %d at %s\n", result.TokenID, result.TransactionHash)

	record, err := client.GetMint(ctx, result.RequestID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("ledger status: %s\n", record.Status)
}
