package commands

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dtnd/pkg/sdnv"
)

var sdnvDecode bool

// sdnvCmd is a debugging aid: it converts between decimal values and
// their SDNV byte sequences.
var sdnvCmd = &cobra.Command{
	Use:   "sdnv <value|hex-bytes>",
	Short: "Encode a number as an SDNV (or decode with --decode)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sdnvDecode {
			raw, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
			if err != nil {
				return fmt.Errorf("invalid hex input: %w", err)
			}
			v, n, err := sdnv.Decode(raw)
			if err != nil {
				return err
			}
			fmt.Printf("%d (%d bytes)\n", v, n)
			return nil
		}

		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[0], err)
		}
		out := sdnv.AppendEncode(nil, v)
		fmt.Printf("%s (%d bytes)\n", hex.EncodeToString(out), len(out))
		return nil
	},
}

func init() {
	sdnvCmd.Flags().BoolVar(&sdnvDecode, "decode", false, "Decode hex SDNV bytes instead of encoding")
}
