// Package main is the entry point for the racquetmetrics CLI tool, which imports
// wearable match exports and reports match insights, performance and achievements.
package main

import "github.com/pable/racquet-metrics/cmd"

func main() {
	cmd.Execute()
}
