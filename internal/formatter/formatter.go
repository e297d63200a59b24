// package formatter exports processing history to CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/desertthunder/sobelx/internal/history"
	"github.com/desertthunder/sobelx/internal/shared"
)

// Format names accepted by [Export].
const (
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// Export renders jobs in the named format.
func Export(format string, jobs []*history.Job) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(jobs)
	case FormatMarkdown, "md":
		return ExportToMarkdown(jobs)
	case FormatText, "txt":
		return ExportToText(jobs)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// ExportToCSV converts jobs to CSV with columns:
// ID, Session, Username, Peer, File, Status, Format, Width, Height, InputBytes, OutputBytes, Created, DurationMS, Error
func ExportToCSV(jobs []*history.Job) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{
		"ID", "Session", "Username", "Peer", "File", "Status", "Format", "Width", "Height",
		"InputBytes", "OutputBytes", "Created", "DurationMS", "Error",
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, job := range jobs {
		record := []string{
			job.ID,
			job.SessionID,
			job.Username,
			job.Peer,
			job.FileName,
			string(job.Status),
			job.InputFormat,
			strconv.Itoa(job.Width),
			strconv.Itoa(job.Height),
			strconv.Itoa(job.InputBytes),
			strconv.Itoa(job.OutputBytes),
			shared.Timestamp(job.CreatedAt),
			strconv.FormatInt(job.Duration().Milliseconds(), 10),
			job.Error,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts jobs to a Markdown report with a summary and one list entry per job
func ExportToMarkdown(jobs []*history.Job) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Processing history\n\n")

	s := summarize(jobs)
	buf.WriteString(fmt.Sprintf("**Jobs**: %d\n", len(jobs)))
	buf.WriteString(fmt.Sprintf("**Processed**: %d\n", s.processed))
	buf.WriteString(fmt.Sprintf("**Failed**: %d\n", s.failed))
	buf.WriteString(fmt.Sprintf("**Received**: %s\n\n", humanize.Bytes(uint64(s.inputBytes))))

	buf.WriteString("## Jobs\n\n")
	for i, job := range jobs {
		detail := ""
		switch job.Status {
		case history.StatusProcessed:
			detail = fmt.Sprintf(" (%s %dx%d, %s)", job.InputFormat, job.Width, job.Height, job.Duration())
		case history.StatusFailed:
			detail = fmt.Sprintf(" (%s)", job.Error)
		}
		buf.WriteString(fmt.Sprintf("%d. `%s` by %s [%s]%s\n",
			i+1, job.FileName, job.Username, job.Status, detail))
	}

	return buf.Bytes(), nil
}

// ExportToText converts jobs to plain text format
func ExportToText(jobs []*history.Job) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Jobs: %d\n\n", len(jobs)))

	for i, job := range jobs {
		buf.WriteString(fmt.Sprintf("%d. %s %s - %s (%s)\n",
			i+1, shared.Timestamp(job.CreatedAt), job.Username, job.FileName, job.Status))
	}

	return buf.Bytes(), nil
}

type summary struct {
	processed  int
	failed     int
	inputBytes int
}

func summarize(jobs []*history.Job) summary {
	var s summary
	for _, job := range jobs {
		switch job.Status {
		case history.StatusProcessed:
			s.processed++
		case history.StatusFailed:
			s.failed++
		}
		s.inputBytes += job.InputBytes
	}
	return s
}

// WriteExport renders jobs in format and writes them to path.
func WriteExport(format string, jobs []*history.Job, path string) error {
	data, err := Export(format, jobs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}
