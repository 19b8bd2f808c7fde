// Copyright 2026 Palantir Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package cmd

import (
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/palantir/hookbot/version"
)

var rootCmdConfig struct {
	EnvFiles []string
}

var RootCmd = &cobra.Command{
	Use:     "hookbot",
	Short:   "A GitHub App that routes webhook events to handlers.",
	Version: version.GetVersion(),

	SilenceUsage: true,

	PersistentPreRunE: loadEnvFiles,
}

// loadEnvFiles loads variables from .env files without overriding variables
// that are already set.
func loadEnvFiles(cmd *cobra.Command, args []string) error {
	if len(rootCmdConfig.EnvFiles) == 0 {
		return nil
	}
	if err := godotenv.Load(rootCmdConfig.EnvFiles...); err != nil {
		return errors.Wrap(err, "failed to load env files")
	}
	return nil
}

func init() {
	RootCmd.PersistentFlags().StringSliceVar(&rootCmdConfig.EnvFiles, "env-file", nil, "load environment variables from the given .env files")
}
