package main

import (
	"fmt"
	"io"
	"nexus/internal/client"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultServer = "http://localhost:5000"

// session bundles the state store with the API client for one invocation.
type session struct {
	store     *client.Store
	api       *client.APIClient
	generator *client.Generator
}

type rootOptions struct {
	server    string
	stateFile string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "nexus",
		Short: "Command line client for the Nexus image generation API",
		Long: `nexus drives a Nexus Image Gen server from the terminal.

Generation parameters, local history, favorites and preferences are kept in a
YAML state file between runs.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			if opts.server == "" {
				opts.server = envOr("NEXUS_SERVER", defaultServer)
			}
			if opts.stateFile == "" {
				opts.stateFile = envOr("NEXUS_STATE_FILE", client.DefaultStatePath())
			}
			logrus.SetOutput(cmd.ErrOrStderr())
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "Nexus API base URL (env NEXUS_SERVER)")
	cmd.PersistentFlags().StringVar(&opts.stateFile, "state-file", "", "Path of the YAML state file (env NEXUS_STATE_FILE)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		newGenerateCmd(opts),
		newEditCmd(opts),
		newHistoryCmd(opts),
		newFavoriteCmd(opts),
		newLoginCmd(opts),
		newPrefsCmd(opts),
		newStateCmd(opts),
	)
	return cmd
}

func (o *rootOptions) open() *session {
	store := client.NewStore(client.NewFilePersister(o.stateFile))
	api := client.NewAPIClient(o.server, nil, store)
	downloader := client.NewFileDownloader(store.Preferences().DownloadDir)
	return &session{
		store:     store,
		api:       api,
		generator: client.NewGenerator(store, api, downloader),
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func printYAML(w io.Writer, value any) error {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, string(raw))
	return err
}
