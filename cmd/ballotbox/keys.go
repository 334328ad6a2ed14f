package main

import (
	"errors"
	"fmt"
	"os"

	"ballotbox/encryption"
	"ballotbox/models"
	"ballotbox/registry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	f := issueTokenCmd.Flags()
	f.String("key", "", "shared registrar key (defaults to $BALLOTBOX_SHARED_KEY)")
	f.Int64("voter", 0, "voter number")
	f.String("style", "", "ballot style")
	f.String("token-id", "", "token id (random when empty)")

	rootCmd.AddCommand(genkeyCmd, issueTokenCmd)
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Print a new Fernet key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := encryption.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), k.Encode())
		return nil
	},
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Issue a registrar token, as the registrar would",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		encoded, _ := f.GetString("key")
		if encoded == "" {
			encoded = os.Getenv("BALLOTBOX_SHARED_KEY")
		}
		if encoded == "" {
			return errors.New("a shared key is required (--key or BALLOTBOX_SHARED_KEY)")
		}
		key, err := encryption.DecodeKey(encoded)
		if err != nil {
			return err
		}

		tok := models.RegistrarToken{}
		tok.VoterNumber, _ = f.GetInt64("voter")
		tok.BallotStyle, _ = f.GetString("style")
		tok.TokenID, _ = f.GetString("token-id")
		if tok.TokenID == "" {
			tok.TokenID = uuid.NewString()
		}

		token, err := registry.IssueToken(tok, key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
