package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"lexitrend-go/config"
	"lexitrend-go/insight"
	"lexitrend-go/messaging"
	"lexitrend-go/services/search"

	"github.com/spf13/cobra"
)

// loadConfig is replaced in tests
var loadConfig = config.Get

// openApp loads the configuration and wires a CLI process. Stats are not
// persisted outside the server.
func openApp() (*app, error) {
	conf := loadConfig()
	setupLogging(conf, false)
	return newApp(conf, appOptions{})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnalyzeCmd() *cobra.Command {
	var (
		enhanced bool
		lang     string
		estimate bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <term>",
		Short: "Analyze a cultural or slang term",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			term := strings.Join(args, " ")

			if estimate {
				resolved := lang
				if resolved == "" {
					resolved = a.settings.Language(ctx)
				}
				resolved = insight.ResolveLanguage(resolved)
				p := a.prompts.BasicPrompt(term, resolved)
				if enhanced {
					p = a.prompts.EnhancedPrompt(term, resolved)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"term":                  term,
					"language":              resolved,
					"model":                 a.models.Select(insight.NormalizeTerm(term)),
					"estimatedPromptTokens": insight.EstimateTokens(p.System + "\n" + p.User),
				})
			}

			if enhanced {
				res, err := a.coordinator.AnalyzeEnhanced(ctx, term, lang)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			res, err := a.coordinator.Analyze(ctx, term, lang)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVarP(&enhanced, "enhanced", "e", false, "back the analysis with web search")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "response language (defaults to the configured language)")
	cmd.Flags().BoolVar(&estimate, "estimate", false, "print the prompt token estimate instead of calling the model")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the insight cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache storage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			req, _ := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "/cache", nil)
			return printJSON(cmd.OutOrStdout(), a.cacheStorage(req))
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached insight",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cache.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove one cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cache.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the cache file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			b, ok := a.backupper()
			if !ok {
				return fmt.Errorf("cache backend %q does not support backups", a.conf.Configuration.CacheBackend)
			}
			path, err := b.Backup()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created at %s\n", path)
			return nil
		},
	}

	backupsCmd := &cobra.Command{
		Use:   "backups",
		Short: "List cache backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			b, ok := a.backupper()
			if !ok {
				return fmt.Errorf("cache backend %q does not support backups", a.conf.Configuration.CacheBackend)
			}
			backups, err := b.ListBackups()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), BackupsResponse{Backups: backups, Count: len(backups)})
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the cache with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			b, ok := a.backupper()
			if !ok {
				return fmt.Errorf("cache backend %q does not support backups", a.conf.Configuration.CacheBackend)
			}
			if err := b.RestoreFromBackup(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache restored from %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, removeCmd, backupCmd, backupsCmd, restoreCmd)
	return cmd
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the stored settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			req, _ := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "/settings", nil)
			view, err := a.settingsView(req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}

	var validate bool
	setKeyCmd := &cobra.Command{
		Use:   "set-key <api-key>",
		Short: "Store the generation API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if validate {
				valid, err := a.generator.ValidateKey(ctx, args[0])
				if err != nil {
					return err
				}
				if !valid {
					return fmt.Errorf("the API key was rejected by the %s backend", a.conf.Configuration.GenerationProvider)
				}
			}
			if err := a.settings.SetAPIKey(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key saved.")
			return nil
		},
	}
	setKeyCmd.Flags().BoolVar(&validate, "validate", false, "check the key with the backend before saving")

	setLanguageCmd := &cobra.Command{
		Use:   "set-language <code>",
		Short: "Set the response language (en, zh, ja or ko)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.settings.SetLanguage(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Language set to %s (%s).\n", args[0], insight.NativeName(args[0]))
			return nil
		},
	}

	setSearchCmd := &cobra.Command{
		Use:       "set-search <on|off>",
		Short:     "Enable or disable web search for enhanced analysis",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			enabled := args[0] == "on"
			if err := a.settings.SetSearchEnabled(cmd.Context(), enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Search %s.\n", map[bool]string{true: "enabled", false: "disabled"}[enabled])
			return nil
		},
	}

	var validateSearch bool
	setSearchKeyCmd := &cobra.Command{
		Use:   "set-search-key <api-key>",
		Short: "Store the Tavily API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if validateSearch {
				valid, msg, err := messaging.NewSearchClient(a.bus).ValidateKey(ctx, args[0])
				if err != nil {
					return err
				}
				if !valid {
					return fmt.Errorf("search key rejected: %s", msg)
				}
			}
			if err := a.settings.SetSearchAPIKey(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Search API key saved.")
			return nil
		},
	}
	setSearchKeyCmd.Flags().BoolVar(&validateSearch, "validate", false, "check the key with Tavily before saving")

	var all bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				err = a.settings.ClearAll(cmd.Context())
			} else {
				err = a.settings.Reset(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings reset.")
			return nil
		},
	}
	resetCmd.Flags().BoolVar(&all, "all", false, "also remove the stored API key")

	cmd.AddCommand(showCmd, setKeyCmd, setLanguageCmd, setSearchCmd, setSearchKeyCmd, resetCmd)
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		server     string
		depth      string
		maxResults int
		include    []string
		exclude    []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a web search through the message boundary",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := search.Query{
				Query:          strings.Join(args, " "),
				SearchDepth:    depth,
				MaxResults:     maxResults,
				IncludeDomains: include,
				ExcludeDomains: exclude,
			}

			var transport messaging.Transport
			if server != "" {
				conf := loadConfig()
				setupLogging(conf, false)
				url := strings.TrimRight(server, "/") + "/message"
				transport = messaging.NewHTTPTransport(url, &http.Client{Timeout: conf.SearchTimeout()}, conf.Configuration.APIKey)
			} else {
				a, err := openApp()
				if err != nil {
					return err
				}
				defer a.Close()
				transport = a.bus
			}

			resp, err := messaging.NewSearchClient(transport).Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "send the search to a running server (base URL) instead of in-process")
	cmd.Flags().StringVar(&depth, "depth", search.DepthBasic, "search depth (basic or advanced)")
	cmd.Flags().IntVar(&maxResults, "max-results", search.ToolMaxResults, "maximum number of results")
	cmd.Flags().StringSliceVar(&include, "include-domain", nil, "only search these domains")
	cmd.Flags().StringSliceVar(&exclude, "exclude-domain", nil, "never search these domains")
	return cmd
}
