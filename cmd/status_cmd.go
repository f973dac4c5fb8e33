package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the gateway is reachable",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := gatewayRPC(protocol.MethodHealth, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Gateway unreachable: %s\n", err)
				os.Exit(1)
			}
			if !resp.OK {
				fmt.Fprintf(os.Stderr, "Gateway unhealthy: %s\n", errorMessage(resp))
				os.Exit(1)
			}
			fmt.Println("ok")
		},
	}
}

func statusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live gateway counters",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := gatewayRPC(protocol.MethodStatus, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if !resp.OK {
				fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(resp))
				os.Exit(1)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(resp.Payload, "", "  ")
				fmt.Println(string(data))
				return
			}
			status, _ := resp.Payload.(map[string]interface{})
			printStatus(status)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printStatus(status map[string]interface{}) {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		if nested, ok := status[k].(map[string]interface{}); ok {
			data, _ := json.Marshal(nested)
			fmt.Fprintf(tw, "%s\t%s\n", k, data)
			continue
		}
		fmt.Fprintf(tw, "%s\t%v\n", k, status[k])
	}
	tw.Flush()
}

func errorMessage(resp *protocol.ResponseFrame) string {
	if resp.Error == nil {
		return "unknown error"
	}
	return resp.Error.Code + ": " + resp.Error.Message
}
