package cups

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/phin1x/go-ipp"

	"github.com/orrn/printdesk/internal/core"
)

var (
	ErrPrinterNotFound = errors.New("printer not found")
	ErrInvalidJobID    = errors.New("spooler returned no job id")
)

const (
	printerNotFoundReason = "printer not found"
	mimeTypePDF           = "application/pdf"
	defaultRequestingUser = "printdesk"

	attributeSides          = "sides"
	attributePrintColorMode = "print-color-mode"
)

// The go-ipp encoder only writes attributes it has a tag for.
func init() {
	for _, name := range []string{attributeSides, attributePrintColorMode} {
		if _, ok := ipp.AttributeTagMapping[name]; !ok {
			ipp.AttributeTagMapping[name] = ipp.TagKeyword
		}
	}
}

var printerStateMap = map[int]core.PrinterState{
	3: core.PrinterStateIdle,
	4: core.PrinterStatePrinting,
}

var colorModeMap = map[string]string{
	"Gray": "monochrome",
	"RGB":  "color",
}

var printerAttributes = []string{
	"printer-name",
	"printer-state",
	"printer-state-reasons",
	"sides-supported",
	"color-supported",
	"copies-supported",
	"print-color-mode-supported",
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      bool
}

// ippClient is the subset of the go-ipp CUPS client the adapter uses.
type ippClient interface {
	SendRequest(url string, req *ipp.Request, additionalResponseData io.Writer) (*ipp.Response, error)
	GetJobs(printer, class string, whichJobs string, myJobs bool, firstJobId, limit int, attributes []string) (map[int]ipp.Attributes, error)
	CancelJob(jobID int, purge bool) error
	GetPrinters(attributes []string) (map[string]ipp.Attributes, error)
}

// Client is the printer service backed by a CUPS server over IPP.
type Client struct {
	ipp     ippClient
	baseURL string
	user    string
}

func NewClient(cfg Config) *Client {
	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	user := cfg.User
	if user == "" {
		user = defaultRequestingUser
	}
	return &Client{
		ipp:     ipp.NewCUPSClient(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.TLS),
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		user:    user,
	}
}

func (c *Client) Submit(ctx context.Context, printer, filePath, title string, opts core.PrintOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	doc, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()
	info, err := doc.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat document: %w", err)
	}

	// PrintFile and PrintJob pin copies to 1 in the operation group, where
	// CUPS looks first.
	req := ipp.NewRequest(ipp.OperationPrintJob, 1)
	req.OperationAttributes[ipp.AttributePrinterURI] = fmt.Sprintf("ipp://localhost/printers/%s", printer)
	req.OperationAttributes[ipp.AttributeRequestingUserName] = c.user
	req.OperationAttributes[ipp.AttributeJobName] = title
	req.OperationAttributes[ipp.AttributeDocumentFormat] = mimeTypePDF
	req.JobAttributes[ipp.AttributeCopies] = opts.Copies
	req.JobAttributes[attributeSides] = string(opts.Duplex)
	if mode, ok := colorModeMap[opts.ColorModel]; ok {
		req.JobAttributes[attributePrintColorMode] = mode
	}
	req.File = doc
	req.FileSize = int(info.Size())

	resp, err := c.ipp.SendRequest(c.baseURL+"/printers/"+printer, req, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to print file: %w", err)
	}
	return jobIDFrom(resp)
}

func jobIDFrom(resp *ipp.Response) (int, error) {
	if resp == nil || len(resp.JobAttributes) == 0 {
		return 0, ErrInvalidJobID
	}
	vals := resp.JobAttributes[0][ipp.AttributeJobID]
	if len(vals) == 0 {
		return 0, ErrInvalidJobID
	}
	id, ok := vals[0].Value.(int)
	if !ok || id <= 0 {
		return 0, ErrInvalidJobID
	}
	return id, nil
}

// ActiveJobs returns the ids of all not-completed jobs on the server.
func (c *Client) ActiveJobs(ctx context.Context) (map[int]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jobs, err := c.ipp.GetJobs("", "", "not-completed", false, 0, 0, []string{"job-id"})
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs: %w", err)
	}

	active := make(map[int]struct{}, len(jobs))
	for id := range jobs {
		active[id] = struct{}{}
	}
	return active, nil
}

func (c *Client) Cancel(ctx context.Context, printer string, externalID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ipp.CancelJob(externalID, false); err != nil {
		return fmt.Errorf("failed to cancel job %d on %s: %w", externalID, printer, err)
	}
	return nil
}

func (c *Client) printer(ctx context.Context, name string) (ipp.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	printers, err := c.ipp.GetPrinters(printerAttributes)
	if err != nil {
		return nil, fmt.Errorf("failed to get printers: %w", err)
	}
	attrs, ok := printers[name]
	if !ok {
		return nil, ErrPrinterNotFound
	}
	return attrs, nil
}

func (c *Client) Capabilities(ctx context.Context, printer string) (*core.Capabilities, error) {
	attrs, err := c.printer(ctx, printer)
	if err != nil {
		return nil, err
	}
	return capabilitiesFrom(attrs), nil
}

// Status reports an unknown printer as offline rather than as an error.
func (c *Client) Status(ctx context.Context, printer string) (*core.PrinterStatus, error) {
	attrs, err := c.printer(ctx, printer)
	if errors.Is(err, ErrPrinterNotFound) {
		return &core.PrinterStatus{State: core.PrinterStateOffline, Reasons: []string{printerNotFoundReason}}, nil
	}
	if err != nil {
		return nil, err
	}
	return statusFrom(attrs), nil
}

func capabilitiesFrom(attrs ipp.Attributes) *core.Capabilities {
	caps := &core.Capabilities{MaxCopies: 1}

	caps.Duplex = len(attrs["sides-supported"]) > 1

	for _, a := range attrs["color-supported"] {
		if b, ok := a.Value.(bool); ok && b {
			caps.Color = true
		}
	}
	for _, a := range attrs["print-color-mode-supported"] {
		if s, ok := a.Value.(string); ok && s == "color" {
			caps.Color = true
		}
	}
	if _, ok := attrs["ColorModel"]; ok {
		caps.Color = true
	}

	if vals := attrs["copies-supported"]; len(vals) > 0 {
		if n := upperBound(vals[0].Value); n > 0 {
			caps.MaxCopies = n
		}
	}
	return caps
}

func statusFrom(attrs ipp.Attributes) *core.PrinterStatus {
	st := &core.PrinterStatus{State: core.PrinterStateOffline, Reasons: []string{}}

	if vals := attrs["printer-state"]; len(vals) > 0 {
		if n, ok := vals[0].Value.(int); ok {
			if state, known := printerStateMap[n]; known {
				st.State = state
			}
		}
	}
	for _, a := range attrs["printer-state-reasons"] {
		if s, ok := a.Value.(string); ok {
			st.Reasons = append(st.Reasons, s)
		}
	}
	return st
}

var digits = regexp.MustCompile(`\d+`)

// upperBound reads the upper end of a rangeOfInteger value, which may arrive
// as a plain integer, a "1-9999" string or a decoded range struct.
func upperBound(v interface{}) int {
	if n, ok := v.(int); ok {
		return n
	}
	found := digits.FindAllString(fmt.Sprint(v), -1)
	if len(found) == 0 {
		return 0
	}
	n, err := strconv.Atoi(found[len(found)-1])
	if err != nil {
		return 0
	}
	return n
}
