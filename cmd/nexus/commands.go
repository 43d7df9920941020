package main

import (
	"errors"
	"fmt"
	"io"
	"nexus/internal/client"
	"strings"

	"github.com/spf13/cobra"
)

type generationFlags struct {
	model  string
	size   string
	aspect string
	n      int
}

func (f *generationFlags) register(cmd *cobra.Command, withCount bool) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model to use (kept for later runs)")
	cmd.Flags().StringVarP(&f.size, "size", "s", "", "Output size, e.g. 1024x1024")
	cmd.Flags().StringVarP(&f.aspect, "aspect", "a", "", "Aspect ratio: 1:1, 16:9 or 9:16")
	if withCount {
		cmd.Flags().IntVarP(&f.n, "count", "n", 0, "Number of images (1-4)")
	}
}

// apply 把命令行参数写入持久化状态，与界面上修改参数的效果一致
func (f *generationFlags) apply(store *client.Store) {
	if f.model != "" {
		store.Dispatch(client.SetModel{Model: f.model})
	}
	if f.aspect != "" {
		store.Dispatch(client.SetAspectRatio{Ratio: f.aspect})
	}
	if f.size != "" {
		store.Dispatch(client.SetSize{Size: f.size})
	}
	if f.n > 0 {
		store.Dispatch(client.SetNumImages{N: f.n})
	}
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	flags := &generationFlags{}
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate images from a text prompt",
		Example: `  nexus generate "a red fox in the snow"
  nexus generate -m img4 -a 16:9 -n 2 "a lighthouse at dusk"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.open()
			flags.apply(s.store)
			s.generator.SetMode(client.ModeText)

			results, err := s.generator.GenerateImages(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return errors.New(messageOf(s.generator, err))
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newEditCmd(opts *rootOptions) *cobra.Command {
	flags := &generationFlags{}
	var imagePath string
	cmd := &cobra.Command{
		Use:     "edit --image <file> [prompt]",
		Short:   "Edit an image with a prompt",
		Example: `  nexus edit --image cat.png "make the cat wear a hat"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.open()
			flags.apply(s.store)
			if imagePath != "" {
				if err := s.generator.SelectImage(imagePath); err != nil {
					return err
				}
			}

			results, err := s.generator.EditImageWithPrompt(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return errors.New(messageOf(s.generator, err))
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
	flags.register(cmd, false)
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Image file to edit")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var remote, clearLocal bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show generation history",
		Long: `Show the local generation history (newest first, at most 20 batches).

With --remote the server-side history of the logged in user is shown instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.open()
			out := cmd.OutOrStdout()

			if clearLocal {
				s.store.Dispatch(client.ClearHistory{})
				_, err := fmt.Fprintln(out, "history cleared")
				return err
			}

			if remote {
				images, err := s.api.History(cmd.Context())
				if err != nil {
					return err
				}
				for _, image := range images {
					fmt.Fprintf(out, "#%d  %s  [%s %s]%s\n", image.ID, image.Prompt, image.Model, image.Size, favoriteMark(image.IsFavorite))
					for _, url := range image.URLs {
						fmt.Fprintf(out, "    %s\n", url)
					}
				}
				return nil
			}

			state := s.store.State()
			for _, entry := range state.History {
				kind := "generate"
				if entry.IsEdit {
					kind = "edit"
				}
				fmt.Fprintf(out, "%s  %s  %s  [%s %s %s]%s\n", entry.ID, entry.Timestamp.Format("2006-01-02 15:04"), entry.Prompt, kind, entry.Model, entry.Size, favoriteMark(state.IsFavorite(entry.ID)))
				for _, url := range entry.Images {
					fmt.Fprintf(out, "    %s\n", url)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Show the server-side history (requires login)")
	cmd.Flags().BoolVar(&clearLocal, "clear", false, "Clear the local history")
	return cmd
}

func newFavoriteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <id>",
		Short: "Toggle an image or history entry as favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.open()
			state := s.generator.ToggleFavorite(args[0])
			status := "removed from"
			if state.IsFavorite(args[0]) {
				status = "added to"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s favorites\n", args[0], status)
			return err
		},
	}
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email, password string
	var logout bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the token for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.open()
			if logout {
				s.store.SetToken("")
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return err
			}
			auth, err := s.api.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			s.store.SetToken(auth.Token)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", auth.Username, auth.Role)
			return err
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	cmd.Flags().BoolVar(&logout, "logout", false, "Forget the stored token")
	return cmd
}

func newPrefsCmd(opts *rootOptions) *cobra.Command {
	var autoDownload, autoSave bool
	var dir string
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change client preferences",
		Example: `  nexus prefs --auto-download=true --dir ~/Pictures/nexus
  nexus prefs --auto-save=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.open()
			prefs := s.store.Preferences()
			changed := false
			if cmd.Flags().Changed("auto-download") {
				prefs.AutoDownload = autoDownload
				changed = true
			}
			if cmd.Flags().Changed("auto-save") {
				prefs.AutoSave = autoSave
				changed = true
			}
			if cmd.Flags().Changed("dir") {
				prefs.DownloadDir = dir
				changed = true
			}
			if changed {
				s.store.SetPreferences(prefs)
			}
			return printYAML(cmd.OutOrStdout(), prefs)
		},
	}
	cmd.Flags().BoolVar(&autoDownload, "auto-download", false, "Download generated images automatically")
	cmd.Flags().BoolVar(&autoSave, "auto-save", true, "Save generations to the local history")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory for downloaded images")
	return cmd
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current generation parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			state := opts.open().store.State()
			return printYAML(cmd.OutOrStdout(), map[string]any{
				"model":       state.Model,
				"size":        state.Size,
				"aspectRatio": state.AspectRatio,
				"numImages":   state.NumImages,
				"lastPrompt":  state.LastPrompt,
				"history":     len(state.History),
				"favorites":   state.Favorites,
			})
		},
	}
}

func printResults(w io.Writer, results []client.Result) error {
	for _, result := range results {
		if _, err := fmt.Fprintf(w, "%s  %s\n", result.ID, result.URL); err != nil {
			return err
		}
	}
	return nil
}

// messageOf prefers the generator's user facing message.
func messageOf(g *client.Generator, err error) string {
	if msg := g.Err(); msg != "" {
		return msg
	}
	return err.Error()
}

func favoriteMark(favorite bool) string {
	if favorite {
		return "  ★"
	}
	return ""
}
