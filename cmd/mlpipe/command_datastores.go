package main

import (
	"context"
	"fmt"

	"github.com/sourceplane/mlpipe/internal/loader"
	"github.com/spf13/cobra"
)

var datastoresCmd = &cobra.Command{
	Use:     "datastores",
	Aliases: []string{"datastore"},
	Short:   "Register the datastores and datasets declared in a DatastoreSet document",
	RunE: func(cmd *cobra.Command, args []string) error {
		return registerDatastores(cmd.Context())
	},
}

func registerDatastoresCommand(root *cobra.Command) {
	root.AddCommand(datastoresCmd)
}

func registerDatastores(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	fmt.Println("□ Loading datastore config...")
	l, err := loader.New()
	if err != nil {
		return err
	}
	set, err := l.LoadDatastoreSet(configPath)
	if err != nil {
		return err
	}

	r, err := newRunner()
	if err != nil {
		return err
	}
	_, err = r.RegisterDatastores(ctx, set)
	return err
}
