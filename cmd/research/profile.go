package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/maltedev/product-research/internal/profile"
)

func newProfileCmd(a *app) *cobra.Command {
	var browserName string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the browser user-data directory and last used profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if browserName == "" {
				browserName = a.cfg.Browser.Kind
			}
			kind, err := profile.ParseKind(browserName)
			if err != nil {
				return err
			}

			p, err := profile.NewResolver().Resolve(kind)
			if err != nil {
				return err
			}

			out := struct {
				*profile.BrowserProfile
				Dir       string   `json:"profile_dir"`
				LockFiles []string `json:"lock_files"`
			}{
				BrowserProfile: p,
				Dir:            p.Dir(),
				LockFiles:      profile.PresentLockFiles(p.Root),
			}
			if out.LockFiles == nil {
				out.LockFiles = []string{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&browserName, "browser", "b", "", "edge or chrome (default from config)")
	return cmd
}
