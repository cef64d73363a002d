package main

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed config.example.yaml
var configExampleContent string

// runInit writes config.example.yaml in the current directory, adapted from
// the teacher's cmd/llm-proxy/init.go //go:embed .env.example idiom.
func runInit() error {
	const filename = "config.example.yaml"

	if err := os.WriteFile(filename, []byte(configExampleContent), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}

	fmt.Printf("wrote %s\n", filename)
	fmt.Println("next steps:")
	fmt.Println("  1. cp config.example.yaml config.yaml")
	fmt.Println("  2. edit config.yaml: set channel targets, keys, and uiAuthToken")
	fmt.Println("  3. ./gatewayd --config config.yaml")

	return nil
}
