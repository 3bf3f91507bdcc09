package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write configuration",
	Long: `Manage configuration. Values merge from three layers: defaults, then
the config file, then LODESTAR_* environment variables; flags beat all
three. The project file .lodestar/config.yaml travels with the repo,
and ~/.config/lodestar/config.yaml covers everything else.

Keys:
  agent-id        ambient agent identity (LODESTAR_AGENT_ID)
  identity        display name for agent join
  lease-ttl       default claim duration (15m)
  lock-timeout    how long writers wait for the spec lock (5s)
  context-budget  task.context body cap in bytes (8000)
  message-limit   inbox page size (50)
  watch.*         event watch poll-interval and debounce
  log.*           rotation: max-size-mb, max-backups, max-age-days

Examples:
  lodestar config set lease-ttl 30m
  lodestar config get lease-ttl
  lodestar config list`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get one configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		value := config.GetString(key)
		if jsonOutput {
			printJSON(map[string]any{
				"key":    key,
				"value":  value,
				"source": config.ValueSource(key),
			})
			return
		}
		if value == "" {
			fmt.Printf("%s (not set)\n", key)
			return
		}
		fmt.Printf("%s %s\n", value, ui.RenderMuted("("+string(config.ValueSource(key))+")"))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the project config file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		config.Set(key, value)

		target := config.ConfigFileUsed()
		if target == "" {
			root, err := paths.Find(workDir())
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s no config file and no repository anchor to put one in: %v\n",
					ui.RenderError("✗"), err)
				exit(2)
			}
			target = filepath.Join(root.LodestarDir, "config.yaml")
		}
		if err := config.WriteTo(target); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderError("✗"), err)
			exit(1)
		}
		if jsonOutput {
			printJSON(map[string]string{"key": key, "value": value, "file": target})
			return
		}
		fmt.Printf("%s set %s = %s %s\n", ui.RenderPass("✓"), key, value,
			ui.RenderMuted("("+target+")"))
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting and where it came from",
	Run: func(cmd *cobra.Command, args []string) {
		settings := flattenSettings("", config.AllSettings())
		if jsonOutput {
			printJSON(settings)
			return
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := ui.NewTable(ui.GetWidth(), "Key", "Value", "Source")
		for _, k := range keys {
			t.Row(k, fmt.Sprintf("%v", settings[k]), string(config.ValueSource(k)))
		}
		fmt.Println(t.String())
		if file := config.ConfigFileUsed(); file != "" {
			fmt.Println(ui.RenderMuted("config file: " + file))
		}
	},
}

// flattenSettings turns viper's nested maps into dotted keys, the form
// every other config call uses.
func flattenSettings(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, value := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := value.(map[string]any); ok {
			for nk, nv := range flattenSettings(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = value
	}
	return out
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}
