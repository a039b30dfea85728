package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/warden/internal/admin"
	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/dispatch"
	"github.com/stellarlinkco/warden/internal/gateway"
	"github.com/stellarlinkco/warden/internal/lexicon"
	"github.com/stellarlinkco/warden/internal/logging"
)

// version is set via ldflags at build time
var version = "dev"

var errNoToken = errors.New("telegram token not set. Run 'warden onboard' or set WARDEN_TELEGRAM_TOKEN")

// GatewayRunner is the part of the gateway the run command needs.
type GatewayRunner interface {
	Run(ctx context.Context) error
}

// GatewayFactory builds the gateway for the run command. Tests replace it.
var GatewayFactory = func(cfg *config.Config) (GatewayRunner, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw, nil
}

type classifyFlags struct {
	mention bool
	caps    bool
	lenient bool
	owner   bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "warden",
		Short:   "warden - chat moderation bot",
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway (channels, workers, cron, health)",
		RunE:  runGateway,
	}

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write the default config and lexicon",
		RunE:  runOnboard,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration",
		RunE:  runStatus,
	}

	var cf classifyFlags
	classifyCmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Show how a message would be handled",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, strings.Join(args, " "), cf)
		},
	}
	classifyCmd.Flags().BoolVar(&cf.mention, "mention", false, "Treat the message as mentioning the bot")
	classifyCmd.Flags().BoolVar(&cf.caps, "caps", true, "Enforce caps abuse")
	classifyCmd.Flags().BoolVar(&cf.lenient, "lenient", false, "Answer questions without a mention")
	classifyCmd.Flags().BoolVar(&cf.owner, "owner", false, "Classify as the owner")

	testCapsCmd := &cobra.Command{
		Use:   "testcaps",
		Short: "Run the caps detector over sample lines",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), admin.CapsReport(admin.CapsSamples))
		},
	}

	root.AddCommand(runCmd, onboardCmd, statusCmd, classifyCmd, testCapsCmd)
	return root
}

func main() {
	if err := fang.Execute(context.Background(), newRootCmd()); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token == "" {
		return errNoToken
	}

	gw, err := GatewayFactory(cfg)
	if err != nil {
		return err
	}
	return gw.Run(cmd.Context())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lexPath := cfg.Moderation.LexiconFile
	if lexPath != "" {
		if _, err := os.Stat(lexPath); os.IsNotExist(err) {
			if err := lexicon.SaveFile(lexPath, lexicon.Default().Export()); err != nil {
				return fmt.Errorf("write lexicon: %w", err)
			}
			fmt.Fprintf(out, "  Created: %s\n", lexPath)
		}
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set the Telegram token, owner id and API keys\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set WARDEN_TELEGRAM_TOKEN, WARDEN_OWNER_ID and GEMINI_API_KEY")
	fmt.Fprintln(out, "  3. Run 'warden classify \"HELLO EVERYONE\"' to try the classifier")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Owner: %s\n", orNotSet(cfg.Agent.OwnerID))
	fmt.Fprintf(out, "Command prefix: %s\n", cfg.Agent.CommandPrefix)
	fmt.Fprintf(out, "Caps enforcement: %v\n", cfg.Moderation.CapsEnforcement)
	fmt.Fprintf(out, "Lenient: %v\n", cfg.Agent.Lenient)
	fmt.Fprintf(out, "Telegram: enabled=%v token=%s\n", cfg.Channels.Telegram.Enabled, maskKey(cfg.Channels.Telegram.Token))
	fmt.Fprintf(out, "Backends: %s\n", strings.Join(cfg.Backends.Order, ", "))
	for _, kind := range cfg.Backends.Order {
		if bc, ok := cfg.Backend(kind); ok {
			fmt.Fprintf(out, "  %s: key=%s model=%s\n", kind, maskKey(bc.APIKey), bc.Model)
		}
	}
	fmt.Fprintf(out, "Notes: %s\n", cfg.Notes.Driver)
	fmt.Fprintf(out, "Health: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)

	if _, err := os.Stat(cfg.Moderation.LexiconFile); err != nil {
		fmt.Fprintln(out, "Lexicon: defaults (run 'warden onboard')")
	} else {
		fmt.Fprintf(out, "Lexicon: %s\n", cfg.Moderation.LexiconFile)
	}
	return nil
}

func runClassify(cmd *cobra.Command, text string, cf classifyFlags) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lex, err := lexicon.Load(cfg.Moderation.LexiconFile)
	if err != nil {
		return fmt.Errorf("load lexicon: %w", err)
	}

	d := dispatch.Decide(dispatch.Input{
		Text:            text,
		BotMentioned:    cf.mention,
		AuthorExempt:    cf.owner,
		CapsEnforcement: cf.caps,
		Lenient:         cf.lenient,
		Lexicon:         lex.Snapshot(),
	})
	printDecision(cmd.OutOrStdout(), d)
	return nil
}

func printDecision(w io.Writer, d dispatch.Decision) {
	fmt.Fprintf(w, "Caps abuse: %v\n", d.CapsAbuse)
	fmt.Fprintf(w, "Sentiment: %s\n", d.Sentiment)
	fmt.Fprintf(w, "Flagged term: %s\n", orNone(d.FlaggedTerm))
	if !d.Respond {
		fmt.Fprintln(w, "Context: none (no reply)")
		return
	}
	fmt.Fprintf(w, "Context: %s\n", d.Context)
	if cat, ok := dispatch.CategoryFor(d.Context); ok {
		fmt.Fprintf(w, "Strike: %s\n", cat)
	}
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
