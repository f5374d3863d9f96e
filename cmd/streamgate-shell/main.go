package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/supalytics/streamgate/shell"
)

func main() {
	var url string
	var format string

	cmd := &cobra.Command{
		Use:   "streamgate-shell",
		Short: "Interactive debug client for a streamgate-server websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return shell.Run(context.Background(), url, shell.WithFormat(format))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&url, "url", "u", "ws://127.0.0.1:8080/ws", "gateway websocket url")
	flags.StringVarP(&format, "format", "f", "tabular", "output format: tabular or json")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
