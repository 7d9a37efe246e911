package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/dtnd/internal/bytesize"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlestore"
)

// statusCmd inspects a stopped node's persistent state directly. Against
// a running daemon the store directory is locked; use the daemon's
// metrics endpoint instead.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect the node's persistent bundle store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := bundlestore.Open(bundlestore.Config{
			DBDir:       filepath.Join(cfg.Storage.Dir, "db"),
			PayloadDir:  filepath.Join(cfg.Storage.Dir, "payloads"),
			Quota:       cfg.Storage.Quota,
			FDCacheSize: cfg.Storage.FDCacheSize,
		})
		if err != nil {
			return fmt.Errorf("open store (is the daemon running?): %w", err)
		}
		defer store.Close()

		var count, inCustody int
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Bundle", "Source", "Dest", "Size", "Custody"})
		err = store.ForEach(func(b *bundle.Bundle) error {
			count++
			custody := ""
			if b.Custody.LocalCustody {
				inCustody++
				custody = fmt.Sprintf("id=%d", b.Custody.LocalCustodyID)
			}
			table.Append([]string{
				fmt.Sprintf("%d", b.LocalID),
				string(b.GBOFID.Source),
				string(b.Dest),
				bytesize.ByteSize(b.Payload.Length).String(),
				custody,
			})
			return nil
		})
		if err != nil {
			return err
		}
		table.Render()

		fmt.Printf("\n%d bundles, %d in local custody, %s reserved (quota: %s)\n",
			count, inCustody,
			bytesize.ByteSize(store.TotalSize()).String(),
			quotaString(cfg.Storage.Quota))
		return nil
	},
}

func quotaString(quota uint64) string {
	if quota == 0 {
		return "unlimited"
	}
	return bytesize.ByteSize(quota).String()
}
