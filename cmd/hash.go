package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinoosan/remitledger/internal/service/migration"
)

// hashCmd digests a migration payload file, or stdin when the file is "-".
// With --request it prints a ready-to-post POST /v1/migrations body.
func hashCmd() *cobra.Command {
	var (
		alg     string
		seq     uint64
		request bool
	)
	cmd := &cobra.Command{
		Use:   "hash FILE",
		Short: "Compute the digest of a migration batch payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := migration.NewHasher(alg)
			if err != nil {
				return err
			}
			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if _, err := migration.Decode(payload); err != nil {
				return fmt.Errorf("payload: %w", err)
			}
			sum := migration.HexSum(h, payload)
			out := cmd.OutOrStdout()
			if !request {
				_, err := fmt.Fprintln(out, sum)
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Sequence uint64 `json:"sequence"`
				Payload  []byte `json:"payload"`
				Hash     string `json:"hash"`
			}{seq, payload, sum})
		},
	}
	cmd.Flags().StringVar(&alg, "alg", migration.AlgSHA256, "digest algorithm (sha256|blake2b-256)")
	cmd.Flags().Uint64Var(&seq, "sequence", 0, "batch sequence number, used with --request")
	cmd.Flags().BoolVar(&request, "request", false, "print a POST /v1/migrations request body")
	return cmd
}

func readPayload(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
