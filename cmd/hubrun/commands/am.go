package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hubrun/am"
	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/pulse/budget"
	"github.com/teranos/hubrun/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage hubrun configuration",
	Long: sym.AM + ` am — Manage hubrun configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (HUBRUN_* prefix, HUBRUN_API_KEY for a single key)
2. Project config (./hubrun.toml)
3. User config (~/.hubrun/config.toml)
4. System config (/etc/hubrun/config.toml)
5. Default values

Examples:
  hubrun am show                       # Show effective configuration
  hubrun am show --yaml                # ... as YAML
  hubrun am cred add main --key sk-... --concurrency 2
  hubrun am cred rm main`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with api keys masked",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmValidate,
}

var amCredCmd = &cobra.Command{
	Use:   "cred",
	Short: "Manage credentials in the user config",
}

var amCredAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or replace a credential",
	Long: `Add or replace a credential in ~/.hubrun/config.toml.

The key is read from --key, or from HUBRUN_NEW_API_KEY so it stays out of
shell history.`,
	Args: cobra.ExactArgs(1),
	RunE: runAmCredAdd,
}

var amCredRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove a credential",
	Args:    cobra.ExactArgs(1),
	RunE:    runAmCredRm,
}

var (
	amShowYAML      bool
	credKey         string
	credConcurrency int
)

func init() {
	amShowCmd.Flags().BoolVar(&amShowYAML, "yaml", false, "Show as YAML instead of TOML")
	amCredAddCmd.Flags().StringVar(&credKey, "key", "", "API key (default: $HUBRUN_NEW_API_KEY)")
	amCredAddCmd.Flags().IntVar(&credConcurrency, "concurrency", 1, "Jobs this credential may run at once")

	amCredCmd.AddCommand(amCredAddCmd)
	amCredCmd.AddCommand(amCredRmCmd)

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amCredCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	format := "toml"
	if amShowYAML {
		format = "yaml"
	}
	data, err := am.Render(cfg, format)
	if err != nil {
		return err
	}

	fmt.Printf("# hubrun configuration\n")
	for _, path := range am.LoadedFiles() {
		fmt.Printf("# loaded from %s\n", path)
	}
	fmt.Print(string(data))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	creds := cfg.EffectiveCredentials()
	if len(creds) == 0 {
		pterm.Warning.Println("Configuration is valid but has no credentials")
		return nil
	}
	pterm.Success.Printf("Configuration is valid (%d credentials)\n", len(creds))
	return nil
}

func runAmCredAdd(cmd *cobra.Command, args []string) error {
	key := credKey
	if key == "" {
		key = os.Getenv("HUBRUN_NEW_API_KEY")
	}
	if key == "" {
		return errors.WithHint(errors.NewInvalidRequestError("no api key given"),
			"pass --key or set HUBRUN_NEW_API_KEY")
	}

	cred := am.CredentialConfig{ID: args[0], APIKey: key, Concurrency: credConcurrency}
	if err := am.AddCredential(cred); err != nil {
		return err
	}
	pterm.Success.Printf("%s Credential %s (%s) saved to %s\n",
		sym.AM, cred.ID, budget.Fingerprint(key), am.UserConfigPath())
	return nil
}

func runAmCredRm(cmd *cobra.Command, args []string) error {
	path := am.UserConfigPath()
	if err := am.RemoveCredentialFrom(path, args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("%s Credential %s removed from %s\n", sym.AM, args[0], path)
	return nil
}
