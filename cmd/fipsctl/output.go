package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/ipc"
	"github.com/cloudflared-fips/fips-installer/internal/mode"
)

// OutputFormatter prints results as JSON or human-readable text.
type OutputFormatter struct {
	w        io.Writer
	jsonMode bool
}

func newOutputFormatter(w io.Writer, jsonMode bool) *OutputFormatter {
	return &OutputFormatter{w: w, jsonMode: jsonMode}
}

// Print writes data as indented JSON or text as-is.
func (f *OutputFormatter) Print(data interface{}, text string) error {
	if f.jsonMode {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(f.w, string(b))
		return err
	}
	_, err := fmt.Fprintln(f.w, strings.TrimRight(text, "\n"))
	return err
}

// Line writes one compact JSON object or one text line.
func (f *OutputFormatter) Line(data interface{}, text string) error {
	if f.jsonMode {
		return json.NewEncoder(f.w).Encode(data)
	}
	_, err := fmt.Fprintln(f.w, text)
	return err
}

// Result reports a mode change. A failed change prints the result (with its
// error class) and is returned as an error so the exit status is non-zero.
func (f *OutputFormatter) Result(success string, res ipc.ModeResult, err error) error {
	if err != nil {
		if f.jsonMode {
			out := map[string]interface{}{
				"success": false,
				"class":   res.Class,
				"error":   err.Error(),
			}
			if perr := f.Print(out, ""); perr != nil {
				return perr
			}
		}
		if res.Class != "" {
			return fmt.Errorf("%w (%s)", err, res.Class)
		}
		return err
	}
	return f.Print(res, success)
}

func formatStatus(st mode.Status) string {
	if !st.Enabled {
		return "FIPS mode: disabled"
	}
	return "FIPS mode: enabled (version " + st.Version + ")"
}

func formatProviders(providers []string) string {
	if len(providers) == 0 {
		return "No providers available"
	}
	return strings.Join(providers, "\n")
}

func formatHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return "No transitions recorded"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tPROFILE\tRESULT\tMESSAGE")
	for _, e := range entries {
		profile := e.Profile
		if profile == "" {
			profile = "-"
		}
		result := "ok"
		if !e.Success {
			result = e.Class
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Operation, profile, result, e.Message)
	}
	tw.Flush()
	return b.String()
}
