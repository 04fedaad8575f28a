package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/detect"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the audit pipeline against a source tree or revision",
	Long: `Run the full pipeline: snapshot the sources into a revision, execute the
verification plan, then the agent stages. The command waits for the pipeline
task to finish and prints the run as JSON.

Either --dir (snapshot a local directory) or --revision (audit an existing
revision) must be given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		revisionID, _ := cmd.Flags().GetString("revision")
		projectID, _ := cmd.Flags().GetString("project")
		profile, _ := cmd.Flags().GetString("profile")
		primary, _ := cmd.Flags().GetString("model")
		fallback, _ := cmd.Flags().GetString("fallback-model")

		if (dir == "") == (revisionID == "") {
			return fmt.Errorf("exactly one of --dir or --revision is required")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if primary == "" {
			primary = a.cfg.Audit.Defaults.PrimaryModel
		}
		if fallback == "" {
			fallback = a.cfg.Audit.Defaults.FallbackModel
		}
		if profile == "" {
			profile = a.cfg.Audit.Defaults.Profile
		}

		if revisionID == "" {
			files, err := readSourceTree(dir)
			if err != nil {
				return err
			}

			paths := make([]string, 0, len(files))
			for p := range files {
				paths = append(paths, p)
			}
			det := detect.Sources(paths)
			if det.Language == "" {
				fmt.Fprintf(os.Stderr, "→ warning: no recognized contract sources under %s\n", dir)
			} else {
				fmt.Fprintf(os.Stderr, "→ detected %s project (%d contract files)\n", det.Language, len(det.ContractFiles))
			}

			rev, err := a.revisions.Bootstrap(projectID, files)
			if err != nil {
				return err
			}
			revisionID = rev.ID
			fmt.Fprintf(os.Stderr, "→ snapshotted %d files as revision %s\n", len(files), rev.ID)
		}

		wc, err := a.revisions.CreateWorkingCopy(revisionID)
		if err != nil {
			return err
		}

		result, err := a.orch.Start(cmd.Context(), orchestrator.StartOpts{
			WorkingCopyID: wc.ID,
			PrimaryModel:  primary,
			FallbackModel: fallback,
			Profile:       audit.Profile(profile),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "→ run %s queued on revision %s\n", result.RunID, result.RevisionID)

		// One-shot CLI: wait for the pipeline task instead of observing
		// asynchronously.
		a.orch.Wait()

		run, err := a.orch.Get(cmd.Context(), result.RunID)
		if err != nil {
			return err
		}
		return printJSON(cmd, run)
	},
}

// readSourceTree loads a local directory into a path -> content map,
// skipping dotfiles and anything that is not a regular file.
func readSourceTree(root string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if info.IsDir() {
			if name != "." && len(name) > 1 && name[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || name[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read source tree %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no source files found under %s", root)
	}
	return files, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}

func init() {
	runCmd.Flags().String("dir", "", "Directory to snapshot and audit")
	runCmd.Flags().String("revision", "", "Existing revision ID to audit")
	runCmd.Flags().String("project", "default", "Project ID")
	runCmd.Flags().String("profile", "", "Audit profile: fast or deep")
	runCmd.Flags().String("model", "", "Primary model ID (default from config)")
	runCmd.Flags().String("fallback-model", "", "Fallback model ID (default from config)")
}
