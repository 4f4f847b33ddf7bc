package util

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phughk/surrealdb/lib/kvs"
	"github.com/phughk/surrealdb/lib/kvs/diskkv"
	"github.com/phughk/surrealdb/lib/kvs/memkv"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("surrealdb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// OpenDatastore resolves a backend target string and opens a datastore over
// it. Supported targets:
//
//	memory        in-process birch engine, data is lost on exit
//	file:<path>   persistent BadgerDB store at <path>
//
// Replicated shards are served by their node host (see the serve command)
// and have no standalone client target.
func OpenDatastore(target string, cfg kvs.Config) (*kvs.Datastore, error) {
	var factory kvs.DriverFactory

	switch {
	case target == "memory":
		factory = memkv.Factory()
	case strings.HasPrefix(target, "file:"):
		dir := strings.TrimPrefix(target, "file:")
		if dir == "" {
			return nil, fmt.Errorf("file backend requires a path (file:<path>)")
		}
		factory = diskkv.Factory(diskkv.Config{Dir: dir})
	default:
		return nil, fmt.Errorf("invalid backend %q (expected memory or file:<path>)", target)
	}

	drv, err := factory()
	if err != nil {
		return nil, err
	}
	return kvs.Open(drv, cfg)
}
