package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"parcel/internal/api"
	"parcel/internal/delivery"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func addOutputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", outputTable, "Output format: table, json, or yaml")
}

// writeStructured encodes v in the requested machine format. It reports
// false for the table format so callers render their own view.
func writeStructured(cmd *cobra.Command, format string, v any) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", outputTable:
		return false, nil
	case outputJSON:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return true, fmt.Errorf("unknown output format %q (want table, json, or yaml)", format)
	}
}

// statusLabel renders a stored or effective status for people.
func statusLabel(status string) string {
	if status == "" {
		return "-"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(status, "_", " "))
}

func bundleStatusText(b api.Bundle) string {
	label := statusLabel(b.Status)
	if b.IsStalled {
		label += " (stalled)"
	}
	return label
}

func progressText(b api.Bundle) string {
	return fmt.Sprintf("%.0f%% (%d/%d)", b.ProgressPercentage, b.CompletedChunks, b.TotalChunks)
}

func bytesText(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func sizePtrText(n *int64) string {
	if n == nil {
		return "-"
	}
	return bytesText(*n)
}

// timeText renders an API timestamp relative to now.
func timeText(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func etaText(snap delivery.Snapshot) string {
	if snap.EtaMinutesMax <= 0 {
		return "-"
	}
	if snap.EtaMinutesMin == snap.EtaMinutesMax {
		return fmt.Sprintf("~%d min", snap.EtaMinutesMax)
	}
	return fmt.Sprintf("%d-%d min", snap.EtaMinutesMin, snap.EtaMinutesMax)
}

func expiryText(at *time.Time) string {
	if at == nil {
		return "never"
	}
	return at.UTC().Format(time.RFC3339) + " (" + humanize.Time(*at) + ")"
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
