package main

import (
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"
)

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const keyLength = 128

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configCreateKeyCmd = &cobra.Command{
	Use:   "create_key",
	Short: "Print a random 128-character encryption key",
	RunE:  runConfigCreateKey,
}

func init() {
	configCmd.AddCommand(configCreateKeyCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCreateKey(cmd *cobra.Command, args []string) error {
	key, err := randomKey(keyLength)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	fmt.Println(key)
	return nil
}

func randomKey(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(out), nil
}
