package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"
	"github.com/olekukonko/tablewriter"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func colorStatus(status agent.RunStatus) string {
	switch status {
	case agent.RunOK:
		return green(string(status))
	case agent.RunPartial, agent.RunRunning:
		return yellow(string(status))
	default:
		return red(string(status))
	}
}

func colorState(state agent.State) string {
	switch state {
	case agent.StateDone:
		return green(string(state))
	case agent.StateSkipped:
		return gray(string(state))
	case agent.StateFailed:
		return red(string(state))
	default:
		return yellow(string(state))
	}
}

// newTable returns a borderless left-aligned table.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// printItems writes one row per group outcome.
func printItems(w io.Writer, items []agent.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, gray("no groups processed"))
		return
	}
	table := newTable(w, "Group", "Step", "State", "Messages", "Detail")
	for _, it := range items {
		table.Append([]string{it.Group, it.Step, colorState(it.State), strconv.Itoa(it.Messages), it.Detail})
	}
	table.Render()
}

// printRun writes the outcome of a finished batch.
func printRun(w io.Writer, run *agent.Run) {
	if run == nil {
		return
	}
	fmt.Fprintf(w, "%s %s  %s  %s\n",
		bold("run"), run.ID, bold(string(run.Task)), colorStatus(run.Status))
	printItems(w, run.Items)
	fmt.Fprintf(w, "%d item(s), %d failed, took %s\n",
		len(run.Items), run.Failed(), run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		fmt.Fprintf(w, "%s %s\n", red("error:"), run.Error)
	}
}
