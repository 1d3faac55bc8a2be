package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/kvlet"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func validOutput(o string) error {
	switch o {
	case outputTable, outputJSON:
		return nil
	default:
		return &kvlet.ConfigError{Field: "output", Value: o, Msg: "use table or json"}
	}
}

type setOutput struct {
	ID         string          `json:"id"`
	Dispatched bool            `json:"dispatched"`
	Response   *kvlet.Response `json:"response,omitempty"`
}

func (c *command) printSet(id string, out *kvlet.Response) error {
	if c.global.Output == outputJSON {
		return printJSON(c.out, setOutput{ID: id, Dispatched: out != nil, Response: out})
	}
	if out == nil {
		_, err := fmt.Fprintf(c.out, "%s: stored\n", id)
		return err
	}
	_, err := fmt.Fprintf(c.out, "%s: stored, notified (%d) %s\n", id, out.StatusCode, oneLine(out.Body, 80))
	return err
}

// printRecords renders records as JSON or a table. single prints one object
// instead of an array in JSON mode.
func (c *command) printRecords(recs []kvlet.Record, single bool) error {
	if c.global.Output == outputJSON {
		if single && len(recs) == 1 {
			return printJSON(c.out, recs[0])
		}
		if recs == nil {
			recs = []kvlet.Record{}
		}
		return printJSON(c.out, recs)
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tSTATE\tINFO\tMETHOD\tURL\tCODE\tRESPONSE\tCREATED\tUPDATED")
	for _, r := range recs {
		method, url := "-", "-"
		if r.Target != nil {
			method = r.Target.Method.String()
			url = orDash(r.Target.Endpoint)
		}
		code, body := "-", "-"
		if r.Response != nil {
			code = fmt.Sprint(r.Response.StatusCode)
			body = orDash(oneLine(r.Response.Body, 40))
		}
		info := "-"
		if r.Info != nil {
			info = orDash(oneLine(*r.Info, 40))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.State, info, method, url, code, body,
			r.CreatedAt.Local().Format(time.DateTime), r.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
