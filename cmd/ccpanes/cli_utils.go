package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
)

// normalizeArgs reorders args so flags come before positional arguments.
// The flag package stops at the first positional, so "jump api --json" would
// otherwise ignore --json.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	if len(positional) == 0 {
		return flags
	}
	// Keep "--" so positionals that look like flags survive a second parse.
	return append(append(flags, "--"), positional...)
}

// CLIOutput handles consistent output formatting across all CLI commands.
type CLIOutput struct {
	jsonMode bool
}

func NewCLIOutput(jsonMode bool) *CLIOutput {
	return &CLIOutput{jsonMode: jsonMode}
}

// Success prints a success message or JSON response.
func (c *CLIOutput) Success(message string, data any) {
	if c.jsonMode {
		c.printJSON(data)
		return
	}
	fmt.Printf("%s %s\n", successSymbol, message)
}

// Error prints an error message or JSON error response.
func (c *CLIOutput) Error(message string, code string) {
	if c.jsonMode {
		c.printJSON(map[string]any{
			"success": false,
			"error":   message,
			"code":    code,
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

// Fail prints the error and exits 1.
func (c *CLIOutput) Fail(message string, code string) {
	c.Error(message, code)
	os.Exit(1)
}

// Print prints data (human-readable or JSON).
func (c *CLIOutput) Print(humanOutput string, jsonData any) {
	if c.jsonMode {
		c.printJSON(jsonData)
		return
	}
	fmt.Print(humanOutput)
}

func (c *CLIOutput) printJSON(data any) {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to format JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

const successSymbol = "✓"

// Error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAmbiguous         = "AMBIGUOUS"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
	ErrCodeInvalidArgument   = "INVALID_ARGUMENT"
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	ErrCodeMuxFailed         = "MUX_FAILED"
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
)
