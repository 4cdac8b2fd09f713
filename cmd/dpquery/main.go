//
// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// dpquery releases private histograms and heatmaps of a CSV table.
// Usage example:
//
//	dpquery histogram --data=flights.csv --column=Delay --buckets=20 --cdf --logtostderr
//	dpquery heatmap --data=flights.csv --x=Delay --y=Origin --xbuckets=10 --ybuckets=5
//	dpquery accuracy --data=flights.csv --column=Delay --iterations=50 --samples=500
//
// The key file and the privacy schema default to $BINARYMECH_KEY_FILE and
// $BINARYMECH_SCHEMA_FILE, which may be set in a .env file in the working
// directory. A missing key file is created with a fresh random key.
package main

import (
	"context"
	"errors"
	"flag"
	"os"

	log "github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	keyFileEnv    = "BINARYMECH_KEY_FILE"
	schemaFileEnv = "BINARYMECH_SCHEMA_FILE"

	defaultKeyFile    = "binarymech.key"
	defaultSchemaFile = "privacy_metadata.json"
)

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Exitf("Couldn't load .env file: %v", err)
	}

	var cfg config
	rootCmd := &cobra.Command{
		Use:           "dpquery",
		Short:         "Differentially private histograms and heatmaps with the binary mechanism",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.keyFile, "key", envOr(keyFileEnv, defaultKeyFile), "File holding the secret noise key.")
	rootCmd.PersistentFlags().StringVar(&cfg.schemaFile, "schema", envOr(schemaFileEnv, defaultSchemaFile), "Privacy schema of the data.")
	rootCmd.PersistentFlags().StringVar(&cfg.dataFile, "data", "", "Input csv file name with raw data.")
	rootCmd.PersistentFlags().Float64Var(&cfg.confidence, "confidence", 0, "Confidence level of the intervals, 0 for two standard deviations.")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(
		newHistogramCmd(&cfg),
		newHeatmapCmd(&cfg),
		newAccuracyCmd(&cfg),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Exit(err)
	}
}
