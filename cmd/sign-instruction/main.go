package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/uhyunpark/hyperbook/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbook/pkg/crypto"
)

func main() {
	var (
		keyHex  = flag.String("key", "", "hex private key (a fresh key is generated when empty)")
		kind    = flag.String("kind", string(transaction.KindCreateIndexer), "instruction kind")
		market  = flag.String("market", "SOL-USDC", "market name")
		nonce   = flag.Uint64("nonce", 1, "signer nonce, must exceed the last accepted one")
		body    = flag.String("body", "{}", "instruction body as JSON")
		chainID = flag.Int64("chain-id", 1337, "EIP-712 chain id")
		submit  = flag.String("submit", "", "node URL to POST the signed instruction to, e.g. http://localhost:8080")
	)
	flag.Parse()

	if err := run(*keyHex, transaction.Kind(*kind), *market, *nonce, *body, *chainID, *submit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(keyHex string, kind transaction.Kind, market string, nonce uint64, body string, chainID int64, submit string) error {
	// Step 1: Generate or load key
	var (
		signer *crypto.Signer
		err    error
	)
	if keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Generated key %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	} else {
		signer, err = crypto.FromPrivateKeyHex(keyHex)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Address().Hex())

	// Step 2: Build and sign the envelope
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q, expected one of %v", kind, transaction.Kinds)
	}
	if !json.Valid([]byte(body)) {
		return fmt.Errorf("body is not valid JSON")
	}
	ix, err := transaction.NewInstruction(kind, market, nonce, signer.Address(), json.RawMessage(body))
	if err != nil {
		return err
	}
	verifier := transaction.NewVerifier(crypto.DomainForChain(chainID))
	if err := verifier.Sign(signer, ix); err != nil {
		return fmt.Errorf("signing: %w", err)
	}

	// Step 3: Verify round trip
	recovered, err := verifier.Verify(ix)
	if err != nil {
		return fmt.Errorf("verifying: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Signature valid, recovered %s\n", recovered.Hex())

	raw, err := ix.Serialize()
	if err != nil {
		return err
	}
	if submit == "" {
		fmt.Println(string(raw))
		return nil
	}

	// Step 4: Submit
	resp, err := http.Post(submit+"/api/v1/instructions", "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s", resp.Status, out)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("node refused instruction")
	}
	return nil
}
