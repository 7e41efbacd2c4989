// Command banyanode is the node's CLI front-end: a cobra root command with
// a subcommand tree (`node run`, `events publish|query|subscribe`, `auth
// token`).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{Use: "banyanode"}
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(authCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	run := &cobra.Command{
		Use:   "run",
		Short: "run the node: swarm participation, peer RPC, and the HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runNode(configPath)
		},
	}
	run.Flags().String("config", ".", "directory to search for config.yaml")
	cmd.AddCommand(run)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "scaffold a default config.yaml in the given directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			return scaffoldConfig(dir)
		},
	}
	initCmd.Flags().String("config", ".", "directory to write config.yaml into")
	cmd.AddCommand(initCmd)

	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events"}

	publish := &cobra.Command{
		Use:   "publish",
		Short: "publish one event read from stdin as JSON payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiAddr, _ := cmd.Flags().GetString("api")
			token, _ := cmd.Flags().GetString("token")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			return clientPublish(apiAddr, token, tags)
		},
	}
	publish.Flags().String("api", defaultAPIAddr, "node HTTP API address")
	publish.Flags().String("token", "", "bearer token")
	publish.Flags().StringSlice("tag", nil, "tag to attach to the event (repeatable)")
	cmd.AddCommand(publish)

	query := &cobra.Command{
		Use:   "query [query-string]",
		Short: "run a bounded query and print its ndjson responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiAddr, _ := cmd.Flags().GetString("api")
			token, _ := cmd.Flags().GetString("token")
			return clientQuery(apiAddr, token, args[0])
		},
	}
	query.Flags().String("api", defaultAPIAddr, "node HTTP API address")
	query.Flags().String("token", "", "bearer token")
	cmd.AddCommand(query)

	subscribe := &cobra.Command{
		Use:   "subscribe [query-string]",
		Short: "subscribe to a query and print its ndjson responses until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiAddr, _ := cmd.Flags().GetString("api")
			token, _ := cmd.Flags().GetString("token")
			return clientSubscribe(apiAddr, token, args[0])
		},
	}
	subscribe.Flags().String("api", defaultAPIAddr, "node HTTP API address")
	subscribe.Flags().String("token", "", "bearer token")
	cmd.AddCommand(subscribe)

	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth"}
	token := &cobra.Command{
		Use:   "token [app-id]",
		Short: "exchange a trial app manifest for a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiAddr, _ := cmd.Flags().GetString("api")
			return clientAuth(apiAddr, args[0])
		},
	}
	token.Flags().String("api", defaultAPIAddr, "node HTTP API address")
	cmd.AddCommand(token)
	return cmd
}
