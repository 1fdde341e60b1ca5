package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/scriptd/internal/engine"
	"github.com/CZERTAINLY/scriptd/internal/parallel"
	"github.com/CZERTAINLY/scriptd/internal/walk"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check PATH...",
		Short: "check compiles scripts and reports syntax errors, directories are searched for *" + walk.Ext + " files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  doCheck,
	}
}

func doCheck(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd, "check")
	eng := engine.NewStarlark(engine.WithMaxSteps(config.Executor.MaxSteps))
	compile := func(_ context.Context, path string) (struct{}, error) {
		src, err := os.ReadFile(path)
		if err != nil {
			return struct{}{}, err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		_, err = eng.Compile(name, string(src))
		return struct{}{}, err
	}

	out := cmd.OutOrStdout()
	var errs []error
	var paths []string
	for path, err := range walk.Scripts(ctx, args...) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		paths = append(paths, path)
	}

	total := len(errs) + len(paths)
	for i, r := range parallel.Map(ctx, runtime.GOMAXPROCS(0), paths, compile) {
		path := paths[i]
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, r.Err))
			fmt.Fprintf(out, "%s: %v\n", path, r.Err)
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", path)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d scripts failed: %w", len(errs), total, errors.Join(errs...))
	}
	return nil
}
