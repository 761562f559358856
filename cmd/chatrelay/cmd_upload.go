package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/chatrelay/internal/attachment"
)

func init() {
	rootCmd.AddCommand(uploadCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Store a .txt, .md or .json file for use as a chat attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat file: %w", err)
		}

		blob, err := openBlob(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open blob backend: %w", err)
		}
		stored, err := attachment.NewUploader(blob).Upload(ctx, filepath.Base(args[0]), info.Size(), f)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Uploaded %s (%d bytes)\nfileId: %s\n", stored.Name, stored.Size, stored.FileID)
		return nil
	},
}
