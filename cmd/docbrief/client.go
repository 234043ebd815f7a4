package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/DocBrief/internal/apperr"
	"github.com/dharsanguruparan/DocBrief/internal/model"
)

// apiClient talks to the HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newClient() *apiClient {
	return &apiClient{base: strings.TrimRight(serverURL, "/"), http: &http.Client{Timeout: 2 * time.Minute}}
}

// apiError is a non-2xx response decoded from the {detail, code} body.
type apiError struct {
	Status int
	apperr.Body
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("%s (%s, HTTP %d)", e.Detail, e.Code, e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		e := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, &e.Body) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(data))
		}
		return e
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *apiClient) upload(ctx context.Context, path, title string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var out map[string]any
	err = c.do(ctx, http.MethodPost, "/documents", mw.FormDataContentType(), &body, &out)
	return out, err
}

func (c *apiClient) submit(ctx context.Context, req map[string]any) (*model.SummaryJob, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var job model.SummaryJob
	if err := c.do(ctx, http.MethodPost, "/summaries", "application/json", bytes.NewReader(data), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) job(ctx context.Context, id string) (*model.SummaryJob, error) {
	var job model.SummaryJob
	if err := c.do(ctx, http.MethodGet, "/summaries/"+url.PathEscape(id), "", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// wait polls until the job is terminal or ctx expires.
func (c *apiClient) wait(ctx context.Context, id string, interval time.Duration) (*model.SummaryJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("job %s still %s: %w", id, job.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newUploadCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document and print its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := newClient().upload(cmd.Context(), args[0], title)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Optional document title")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var (
		documentID string
		text       string
		textFile   string
		minLength  int
		maxLength  int
		method     string
		wait       bool
		interval   time.Duration
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a summarization job for a document or inline text",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{}
			switch {
			case documentID != "":
				req["document_id"] = documentID
			case textFile != "":
				data, err := readInput(cmd.InOrStdin(), textFile)
				if err != nil {
					return err
				}
				req["text"] = string(data)
			case text != "":
				req["text"] = text
			default:
				return errors.New("one of --document, --text or --text-file is required")
			}
			if cmd.Flags().Changed("min-length") {
				req["min_length"] = minLength
			}
			if cmd.Flags().Changed("max-length") {
				req["max_length"] = maxLength
			}
			if method != "" {
				req["method"] = method
			}

			c := newClient()
			job, err := c.submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), job)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			job, err = c.wait(ctx, job.ID, interval)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), job); err != nil {
				return err
			}
			if job.Status == model.StatusFailed {
				return fmt.Errorf("job %s failed", job.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "ID of an uploaded document")
	cmd.Flags().StringVar(&text, "text", "", "Inline text to summarize")
	cmd.Flags().StringVar(&textFile, "text-file", "", "Read inline text from a file (- for stdin)")
	cmd.Flags().IntVar(&minLength, "min-length", 32, "Minimum summary length")
	cmd.Flags().IntVar(&maxLength, "max-length", 256, "Maximum summary length")
	cmd.Flags().StringVar(&method, "method", "", "Method label recorded on the job")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval with --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "Give up waiting after this long")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the current state of a summarization job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

type listRow struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	UploadedAt     time.Time `json:"uploaded_at"`
	CreatedAt      time.Time `json:"created_at"`
	SummaryPreview string    `json:"summary_preview"`
}

func newListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:       "list <documents|summaries>",
		Short:     "List documents or summaries, newest first",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"documents", "summaries"},
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			var page model.Page[listRow]
			if err := newClient().do(cmd.Context(), http.MethodGet, "/"+args[0]+"?"+q.Encode(), "", nil, &page); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if args[0] == "documents" {
				fmt.Fprintln(tw, "ID\tFILENAME\tUPLOADED")
				for _, r := range page.Items {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Filename, r.UploadedAt.Format(time.RFC3339))
				}
			} else {
				fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tPREVIEW")
				for _, r := range page.Items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Status, r.CreatedAt.Format(time.RFC3339), r.SummaryPreview)
				}
			}
			fmt.Fprintf(tw, "\n%d of %d\n", len(page.Items), page.Total)
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size (1-100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Items to skip")
	return cmd
}
