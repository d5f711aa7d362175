package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"schoolchat/internal/cache"
	"schoolchat/internal/chat"
	"schoolchat/internal/config"
	"schoolchat/internal/connection"
	"schoolchat/internal/rest"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// cliOptions carries the persistent flag values shared by every subcommand.
type cliOptions struct {
	configPath string
	apiURL     string
	wsURL      string
	cachePath  string
	userID     string
	role       string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "schoolchat",
		Short:         "Command-line client for the school chat backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("SCHOOLCHAT_CONFIG_FILE"), "path to a JSON config file")
	pf.StringVar(&opts.apiURL, "api-url", "", "REST base URL (overrides config)")
	pf.StringVar(&opts.wsURL, "ws-url", "", "websocket URL (overrides config)")
	pf.StringVar(&opts.cachePath, "cache", "", "local message cache path (overrides config)")
	pf.StringVar(&opts.userID, "user", "", "session user id (required)")
	pf.StringVar(&opts.role, "role", string(types.RoleAdmin), "session user role: admin, teacher, parent or student")

	root.AddCommand(
		newConversationsCommand(opts),
		newHistoryCommand(opts),
		newSendCommand(opts),
		newWatchCommand(opts),
		newDeleteCommand(opts),
	)
	return root
}

func (o *cliOptions) loadConfig() (*config.Config, error) {
	cfg := config.Load(o.configPath)
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.wsURL != "" {
		cfg.Realtime.URL = o.wsURL
	}
	if o.cachePath != "" {
		cfg.Cache.Path = o.cachePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *cliOptions) validate() error {
	if !types.IsValidUserID(o.userID) {
		return fmt.Errorf("--user is required and must be a valid user id")
	}
	if !types.IsValidRole(types.Role(o.role)) {
		return fmt.Errorf("--role must be one of admin, teacher, parent, student")
	}
	return nil
}

// stderrNotifier renders client notifications on stderr so command output
// stays pipeable.
var stderrNotifier = interfaces.NotifierFunc(func(severity interfaces.Severity, msg string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", severity, msg)
})

// buildClient assembles the full chat client from flags and config. The
// returned cleanup must run after Close to release the cache file.
func buildClient(opts *cliOptions, onMessage func(types.Message)) (*chat.Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	api, err := rest.NewClient(cfg.API, opts.userID)
	if err != nil {
		return nil, err
	}

	// The channel needs the client's callbacks and the client needs the
	// channel; the closures below are only invoked once the channel is up,
	// by which point client is set.
	var client *chat.Client
	manager, err := connection.NewManager(cfg.Realtime, opts.userID, interfaces.ChannelCallbacks{
		OnNewMessage: func(msg types.Message) {
			client.Callbacks().OnNewMessage(msg)
			if onMessage != nil {
				onMessage(msg)
			}
		},
		OnUserTyping: func(sig types.TypingSignal) {
			client.Callbacks().OnUserTyping(sig)
		},
	}, stderrNotifier)
	if err != nil {
		return nil, err
	}

	var msgCache interfaces.MessageCache
	if cfg.Cache.Path != "" {
		store, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open message cache: %w", err)
		}
		msgCache = store
	}

	client = chat.New(chat.Options{
		Self:           types.User{ID: opts.userID, Role: types.Role(opts.role)},
		Channel:        manager,
		API:            api,
		Cache:          msgCache,
		Notifier:       stderrNotifier,
		TypingDebounce: cfg.Typing.Debounce,
		TypingTTL:      cfg.Typing.LeaseTTL,
	})
	return client, nil
}
