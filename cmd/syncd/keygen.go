package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pivaldi/syncengine/internal/identity"
)

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	outPath := fs.String("out", "", "output path for seed file (required)")
	fs.Parse(args)

	if *outPath == "" {
		return fmt.Errorf("--out is required")
	}

	if _, err := os.Stat(*outPath); err == nil {
		return fmt.Errorf("file already exists: %s", *outPath)
	}

	seed, err := identity.GenerateSeed()
	if err != nil {
		return fmt.Errorf("generate seed: %w", err)
	}
	if err := identity.SaveSeed(*outPath, seed); err != nil {
		return fmt.Errorf("save seed: %w", err)
	}

	kp, err := identity.DeriveKeypair(seed)
	if err != nil {
		return fmt.Errorf("derive keypair: %w", err)
	}

	fmt.Printf("Seed written to %s\n", *outPath)
	fmt.Printf("DID: %s\n", identity.Did(kp.Public()))
	fmt.Printf("PeerID: %s\n", kp.PeerID)
	return nil
}
