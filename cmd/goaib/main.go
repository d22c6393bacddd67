// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goaib/goaib"
	_ "github.com/goaib/goaib/dbd/badgerdb"
)

func main() {
	root := &cobra.Command{
		Use:          "goaib",
		Short:        "goaib runs an IRC bot from a YAML configuration",
		SilenceUsage: true,
		RunE:         run,
	}

	root.Flags().StringP("config", "c", "goaib.yaml", "bot configuration file")
	root.Flags().Bool("debug", false, "log protocol and dispatch detail to stderr")

	// Flags win over GOAIB_CONFIG / GOAIB_DEBUG, which win over the
	// defaults.
	viper.SetEnvPrefix("goaib")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(root.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	conf, err := goaib.LoadConfigFile(viper.GetString("config"))
	if err != nil {
		return err
	}

	var debugWriter io.Writer
	if viper.GetBool("debug") {
		debugWriter = os.Stderr
	}

	bot, err := goaib.NewBot(conf, debugWriter)
	if err != nil {
		return err
	}

	bot.Run()
	return nil
}
