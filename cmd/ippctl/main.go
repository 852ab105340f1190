// ippctl is the command line companion to ippserv: it lists queues
// and jobs, submits documents and drives the administrative
// operations over IPP.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	goipp "github.com/OpenPrinting/goipp"

	"ippserv/internal/client"
)

const usage = `usage: ippctl <command> [args]

commands:
  printers                      list queues
  jobs <printer> [which]        list jobs (which: not-completed, completed, all)
  print <printer> <file>        submit a document
  cancel <printer> <job-id>     cancel a job
  hold <printer> <job-id>       hold a pending job
  release <printer> <job-id>    release a held job
  pause <printer>               stop the queue (admin)
  resume <printer>              start the queue (admin)
  status                        show system attributes

environment: IPPSERV_SERVER, IPPSERV_USER, IPPSERV_PASSWORD, IPPSERV_INSECURE
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	c := client.NewFromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "printers":
		err = listPrinters(ctx, c)
	case "jobs":
		err = listJobs(ctx, c, args)
	case "print":
		err = printFile(ctx, c, args)
	case "cancel":
		err = jobOp(ctx, c, goipp.OpCancelJob, args)
	case "hold":
		err = jobOp(ctx, c, goipp.OpHoldJob, args)
	case "release":
		err = jobOp(ctx, c, goipp.OpReleaseJob, args)
	case "pause":
		err = printerOp(ctx, c, goipp.OpPausePrinter, args)
	case "resume":
		err = printerOp(ctx, c, goipp.OpResumePrinter, args)
	case "status":
		err = systemStatus(ctx, c)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ippctl: %v\n", err)
		os.Exit(1)
	}
}

// newRequest builds a request with the standard leading attributes.
func newRequest(op goipp.Op) *goipp.Message {
	msg := goipp.NewRequest(goipp.DefaultVersion, op, 1)
	msg.Operation.Add(goipp.MakeAttribute("attributes-charset",
		goipp.TagCharset, goipp.String("utf-8")))
	msg.Operation.Add(goipp.MakeAttribute("attributes-natural-language",
		goipp.TagLanguage, goipp.String("en")))
	return msg
}

func checkStatus(resp *goipp.Message) error {
	status := goipp.Status(resp.Code)
	if status >= goipp.StatusErrorBadRequest {
		if msg := client.AttrString(resp.Operation, "status-message"); msg != "" {
			return fmt.Errorf("%s: %s", status, msg)
		}
		return fmt.Errorf("%s", status)
	}
	return nil
}

func listPrinters(ctx context.Context, c *client.Client) error {
	msg := newRequest(goipp.OpCupsGetPrinters)
	resp, err := c.Send(ctx, msg, nil)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	for _, g := range resp.Groups {
		if g.Tag != goipp.TagPrinterGroup {
			continue
		}
		name := client.AttrString(g.Attrs, "printer-name")
		state := client.AttrString(g.Attrs, "printer-state")
		accepting := client.AttrString(g.Attrs, "printer-is-accepting-jobs")
		fmt.Printf("%s\tstate=%s accepting=%s\n", name, state, accepting)
	}
	return nil
}

func listJobs(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ippctl jobs <printer> [which]")
	}
	msg := newRequest(goipp.OpGetJobs)
	msg.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI,
		goipp.String(c.PrinterURI(args[0]))))
	if len(args) > 1 {
		msg.Operation.Add(goipp.MakeAttribute("which-jobs",
			goipp.TagKeyword, goipp.String(args[1])))
	}
	resp, err := c.Send(ctx, msg, nil)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	for _, g := range resp.Groups {
		if g.Tag != goipp.TagJobGroup {
			continue
		}
		id, _ := client.AttrInt(g.Attrs, "job-id")
		name := client.AttrString(g.Attrs, "job-name")
		state := client.AttrString(g.Attrs, "job-state")
		user := client.AttrString(g.Attrs, "job-originating-user-name")
		fmt.Printf("%d\t%s\t%s\t%s\n", id, name, state, user)
	}
	return nil
}

func printFile(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ippctl print <printer> <file>")
	}
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	msg := newRequest(goipp.OpPrintJob)
	msg.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI,
		goipp.String(c.PrinterURI(args[0]))))
	msg.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(currentUser())))
	msg.Operation.Add(goipp.MakeAttribute("job-name", goipp.TagName,
		goipp.String(filepath.Base(args[1]))))
	msg.Operation.Add(goipp.MakeAttribute("document-format",
		goipp.TagMimeType, goipp.String("application/octet-stream")))

	resp, err := c.Send(ctx, msg, f)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if id, ok := client.AttrInt(resp.Job, "job-id"); ok {
		fmt.Printf("job %d queued on %s\n", id, args[0])
	}
	return nil
}

func jobOp(ctx context.Context, c *client.Client, op goipp.Op, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ippctl %s <printer> <job-id>", opVerb(op))
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad job id %q", args[1])
	}
	msg := newRequest(op)
	msg.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI,
		goipp.String(c.PrinterURI(args[0]))))
	msg.Operation.Add(goipp.MakeAttribute("job-id",
		goipp.TagInteger, goipp.Integer(id)))
	msg.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(currentUser())))
	resp, err := c.Send(ctx, msg, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func printerOp(ctx context.Context, c *client.Client, op goipp.Op, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ippctl %s <printer>", opVerb(op))
	}
	msg := newRequest(op)
	msg.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI,
		goipp.String(c.PrinterURI(args[0]))))
	resp, err := c.Send(ctx, msg, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func systemStatus(ctx context.Context, c *client.Client) error {
	msg := newRequest(goipp.OpGetSystemAttributes)
	msg.Operation.Add(goipp.MakeAttribute("system-uri", goipp.TagURI,
		goipp.String(c.SystemURI())))
	resp, err := c.Send(ctx, msg, nil)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	for _, g := range resp.Groups {
		if g.Tag != goipp.TagSystemGroup {
			continue
		}
		for _, attr := range g.Attrs {
			if len(attr.Values) > 0 {
				fmt.Printf("%s: %s\n", attr.Name, attr.Values[0].V.String())
			}
		}
	}
	return nil
}

func opVerb(op goipp.Op) string {
	switch op {
	case goipp.OpCancelJob:
		return "cancel"
	case goipp.OpHoldJob:
		return "hold"
	case goipp.OpReleaseJob:
		return "release"
	case goipp.OpPausePrinter:
		return "pause"
	case goipp.OpResumePrinter:
		return "resume"
	}
	return op.String()
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}
