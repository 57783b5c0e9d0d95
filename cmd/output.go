package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"bulletin-verifier/domain"
	"bulletin-verifier/infrastructure"
	"bulletin-verifier/service"
)

func printOutcomes(outcomes []service.Outcome) {
	color.Cyan("\n=== Verification results ===")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Folder", "Candidate", "Verdict", "Discordances", "Unverifiable", "Report"})
	for _, o := range outcomes {
		v := o.Verdict
		table.Append([]string{
			filepath.Base(v.Folder),
			v.Candidate,
			verdictLabel(o),
			strconv.Itoa(len(v.Discordances)),
			strconv.Itoa(len(v.Unverifiable)),
			filepath.Base(o.ReportLocation),
		})
	}
	table.Render()

	for _, o := range outcomes {
		name := filepath.Base(o.Verdict.Folder)
		if o.Failed() {
			color.Red("%s: %s: %v", name, o.ErrorKind, o.Err)
		}
		for _, w := range o.Warnings {
			color.Yellow("%s: %s", name, w)
		}
		if len(o.Verdict.Discordances) > 0 {
			printDiscordances(name, o.Verdict.Discordances)
		}
	}
}

func printDiscordances(folder string, ds []domain.Discordance) {
	color.Yellow("\nDiscordances for %s", folder)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Subject", "Period", "Level", "Declared", "Official", "Deviation", "Severity"})
	for _, d := range ds {
		table.Append([]string{
			d.Subject,
			d.Period,
			d.Level,
			formatScore(d.DeclaredScore),
			formatScore(d.OfficialScore),
			formatScore(d.Deviation),
			string(d.Severity),
		})
	}
	table.Render()
}

func verdictLabel(o service.Outcome) string {
	switch {
	case o.Failed():
		return color.RedString("ERROR")
	case o.Verdict.Concordance:
		return color.GreenString("CONCORDANT")
	default:
		return color.YellowString("DISCORDANT")
	}
}

func printStatus(folder string, st domain.VerificationStatus) {
	if !st.Verified {
		color.Yellow("%s has not been verified yet", folder)
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Concordance", strconv.FormatBool(*st.Concordance)})
	table.Append([]string{"Discordances", strconv.Itoa(st.DiscordanceCount)})
	table.Append([]string{"Verified at", formatTime(st.VerifiedAt)})
	table.Append([]string{"Report", deref(st.ReportLocation)})
	table.Append([]string{"Record", deref(st.RecordLocation)})
	table.Render()
}

func printDetection(d infrastructure.Detection) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Role", "File"})
	declaration := d.Declaration
	if declaration == "" {
		declaration = "(none)"
	}
	table.Append([]string{"declaration", declaration})
	for _, b := range d.Bulletins {
		table.Append([]string{"bulletin", b})
	}
	table.Render()

	if d.Verifiable {
		color.Green("%s is ready for verification", filepath.Base(d.Folder))
	} else {
		color.Red("%s is missing documents", filepath.Base(d.Folder))
	}
}

func printHistory(history []infrastructure.StoredVerdict) {
	if len(history) == 0 {
		color.Yellow("No verdict recorded")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Created", "Candidate", "Concordance", "Discordances", "Unverifiable", "Record"})
	for _, sv := range history {
		v := sv.Verdict
		table.Append([]string{
			v.CreatedAt.Local().Format(time.DateTime),
			v.Candidate,
			strconv.FormatBool(v.Concordance),
			strconv.Itoa(len(v.Discordances)),
			strconv.Itoa(len(v.Unverifiable)),
			filepath.Base(sv.Location),
		})
	}
	table.Render()
}

func formatScore(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format(time.DateTime)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
