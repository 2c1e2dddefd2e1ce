package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gluk-w/hopshell/internal/sshkeys"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate an ED25519 key pair for the jump host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := sshkeys.GenerateKeyPair()
			if err != nil {
				return err
			}
			path := sshkeys.ExpandHome(args[0])
			if err := sshkeys.SaveKeyPair(path, priv, pub); err != nil {
				return err
			}
			fp, err := sshkeys.GetPublicKeyFingerprint(pub)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s.pub\n%s\n", path, path, fp)
			fmt.Fprintf(cmd.OutOrStdout(), "Add the public key to ~/.ssh/authorized_keys on the jump host.\n")
			return nil
		},
	}
}
