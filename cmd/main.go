/*
Copyright 2024 Orangemart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustysats/orangemart"
	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/gateway"
	"github.com/rustysats/orangemart/notification"
	"github.com/rustysats/orangemart/store"
)

// Orangemart represents the CLI application, encapsulating the root Cobra command.
type Orangemart struct {
	cmd *cobra.Command
}

// engineInstance holds the engine and its configuration for use by subcommands.
type engineInstance struct {
	engine *orangemart.Orangemart
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command runs.
func preRun(app *engineInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupEngine(cnf)
		if err != nil {
			notification.NotifyError(err, "engine startup")
			log.Fatal(err)
		}

		app.engine = engine
		app.cnf = cnf

		return nil
	}
}

// setupEngine wires the engine to its file-backed stores and the configured
// Lightning gateway.
func setupEngine(cnf *config.Configuration) (*orangemart.Orangemart, error) {
	transactionLog, err := store.NewJSONLog(cnf.DataDir)
	if err != nil {
		return nil, fmt.Errorf("error opening transaction log: %v", err)
	}
	balances, err := store.NewBalanceBook(cnf.DataDir)
	if err != nil {
		return nil, fmt.Errorf("error opening balance book: %v", err)
	}
	commands, err := store.NewCommandQueue(cnf.DataDir)
	if err != nil {
		return nil, fmt.Errorf("error opening command queue: %v", err)
	}

	client := gateway.NewClient(cnf.Gateway.BaseUrl, cnf.Gateway.ApiKey, time.Duration(cnf.Gateway.TimeoutSeconds)*time.Second)
	return orangemart.NewOrangemart(transactionLog, client, balances, commands, notification.NewDiscord()), nil
}

// NewCLI creates the command-line interface for the Orangemart server.
func NewCLI() *Orangemart {
	var configFile string
	app := &engineInstance{}

	var rootCmd = &cobra.Command{
		Use:   "orangemart",
		Short: "Lightning invoice reconciliation engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./orangemart.json", "Configuration file for orangemart")

	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))

	return &Orangemart{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur.
func (o Orangemart) executeCLI() {
	if err := o.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
