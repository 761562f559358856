package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/chatrelay/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("chatrelay setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.HTTP.Listen = prompt(scanner, "Listen address", cfg.HTTP.Listen)
		cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "LLM model name", cfg.LLM.Model)
		cfg.LLM.MaxTokens = promptInt(scanner, "Max output tokens", cfg.LLM.MaxTokens)
		cfg.RateLimit.MaxRequests = promptInt(scanner, "Requests per session per minute", cfg.RateLimit.MaxRequests)

		cfg.Blob.Backend = prompt(scanner, "Upload storage backend (fs or s3)", cfg.Blob.Backend)
		if cfg.Blob.Backend == "s3" {
			cfg.Blob.S3.Bucket = prompt(scanner, "S3 bucket", cfg.Blob.S3.Bucket)
			cfg.Blob.S3.Region = prompt(scanner, "S3 region", cfg.Blob.S3.Region)
			cfg.Blob.S3.Endpoint = prompt(scanner, "S3 endpoint (optional)", cfg.Blob.S3.Endpoint)
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func promptInt(scanner *bufio.Scanner, label string, defaultVal int) int {
	raw := prompt(scanner, label, strconv.Itoa(defaultVal))
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return defaultVal
}
