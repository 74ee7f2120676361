// Package main provides a CLI tool for minting capability tokens for direct
// uploads to the image host. It signs with the same secret the gateway uses,
// so tokens minted here are accepted by the upstream verifier.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"pixgate/internal/captoken"
)

type tokenOutput struct {
	Timestamp int64             `json:"timestamp"`
	Signature string            `json:"signature"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	secret := flag.String("secret", os.Getenv("DELETE_SECRET"), "HMAC signing secret (defaults to DELETE_SECRET)")
	endpoint := flag.String("endpoint", "https://i.api.dishis.tech/bulk-upload", "Upstream bulk upload endpoint")
	asJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	token, err := captoken.New(*secret).Issue()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if *asJSON {
		out := tokenOutput{
			Timestamp: token.Timestamp,
			Signature: token.Signature,
			Usage: map[string]string{
				"endpoint":  *endpoint,
				"timestamp": "send as x-upload-timestamp header",
				"signature": "send as x-upload-signature header",
			},
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("timestamp: %d\n", token.Timestamp)
	fmt.Printf("signature: %s\n", token.Signature)
	fmt.Printf("\nexample:\n")
	fmt.Printf("  curl -X POST %s \\\n", *endpoint)
	fmt.Printf("    -H 'x-upload-timestamp: %d' \\\n", token.Timestamp)
	fmt.Printf("    -H 'x-upload-signature: %s' \\\n", token.Signature)
	fmt.Printf("    -F 'files[]=@photo.jpg'\n")
}
