package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/omerta-project/omerta/identity"
	"github.com/spf13/cobra"
)

var (
	identityOutputFile string
	identityKeyFile    string
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage node peer identities",
}

var identityGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new Ed25519 peer identity",
	Example: `  # Generate an identity and print it as JSON
  omertactl identity generate

  # Generate an identity and save the private key to a file
  omertactl identity generate --output node.key`,
	RunE: runIdentityGenerate,
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the peer id and public key for a stored private key",
	RunE:  runIdentityShow,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityGenerateCmd)
	identityCmd.AddCommand(identityShowCmd)

	identityGenerateCmd.Flags().StringVarP(&identityOutputFile, "output", "o", "", "file to save the raw private key (default: stdout only)")
	identityShowCmd.Flags().StringVarP(&identityKeyFile, "key-file", "k", "", "file containing the raw Ed25519 private key (required)")
	_ = identityShowCmd.MarkFlagRequired("key-file")
}

type identityView struct {
	PeerID    string `json:"peer_id"`
	PublicKey string `json:"public_key"`
}

func runIdentityGenerate(cmd *cobra.Command, args []string) error {
	kp, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	if identityOutputFile != "" {
		priv, ok := kp.PrivateKey().(ed25519.PrivateKey)
		if !ok {
			return fmt.Errorf("unexpected private key type")
		}
		if err := os.WriteFile(identityOutputFile, priv, 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		fmt.Printf("Private key saved to: %s\n", identityOutputFile)
	}

	view := identityView{
		PeerID:    kp.PeerID().String(),
		PublicKey: hex.EncodeToString(kp.PublicKey()),
	}
	return printJSON(view)
}

func runIdentityShow(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(identityKeyFile)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return fmt.Errorf("key file has %d bytes, expected %d", len(raw), ed25519.PrivateKeySize)
	}

	kp := identity.FromPrivateKey(ed25519.PrivateKey(raw))
	view := identityView{
		PeerID:    kp.PeerID().String(),
		PublicKey: hex.EncodeToString(kp.PublicKey()),
	}
	return printJSON(view)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
