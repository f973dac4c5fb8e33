package cmd

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cardswap/internal/config"
)

func qrCmd() *cobra.Command {
	var (
		output string
		size   int
	)
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Print a QR code of the hub URL for pointing devices at this gateway",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
				os.Exit(1)
			}
			target := hubURL(cfg)

			if output != "" {
				if err := qrcode.WriteFile(target, qrcode.Medium, size, output); err != nil {
					fmt.Fprintf(os.Stderr, "Error writing QR code: %s\n", err)
					os.Exit(1)
				}
				fmt.Printf("Wrote QR code for %s to %s\n", target, output)
				return
			}

			q, err := qrcode.New(target, qrcode.Medium)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding QR code: %s\n", err)
				os.Exit(1)
			}
			fmt.Print(q.ToSmallString(false))
			fmt.Println(target)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write a PNG file instead of printing to the terminal")
	cmd.Flags().IntVar(&size, "size", 256, "PNG size in pixels")
	return cmd
}
