package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"opsdesk/internal/domain"
)

const (
	defaultSheetName   = "Sheet1"
	defaultHTTPTimeout = 30 * time.Second

	timestampLayout = "2006-01-02 15:04"
)

// Ledger implements domain.TaskLedger by appending one row per classified
// message to a Google Sheet:
//
//	Timestamp | Sender | Source | Context | Intent | Priority | Summary | Action Items | Legal ID | Media Link
type Ledger struct {
	spreadsheetID string
	sheetName     string
	apiBase       string
	tokens        oauth2.TokenSource
	client        *http.Client
	logger        *slog.Logger
}

type LedgerConfig struct {
	SpreadsheetID string
	SheetName     string
	TokenSource   oauth2.TokenSource
	Timeout       time.Duration
	Logger        *slog.Logger

	// APIBase overrides the Sheets endpoint, for tests.
	APIBase string
}

func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.SheetName == "" {
		cfg.SheetName = defaultSheetName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://sheets.googleapis.com"
	}
	return &Ledger{
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		apiBase:       apiBase,
		tokens:        cfg.TokenSource,
		client:        &http.Client{Timeout: cfg.Timeout},
		logger:        cfg.Logger,
	}
}

// Locator is the URL of the spreadsheet rows are appended to.
func (l *Ledger) Locator() string {
	return "https://docs.google.com/spreadsheets/d/" + l.spreadsheetID
}

type appendRequest struct {
	Values [][]string `json:"values"`
}

// Append writes one row for the record. The outcome reports failure
// instead of returning an error: persistence problems degrade the reply,
// they never abort it.
func (l *Ledger) Append(ctx context.Context, rec domain.TaskRecord) domain.PersistOutcome {
	if l.spreadsheetID == "" {
		return domain.PersistOutcome{Err: fmt.Errorf("no spreadsheet configured")}
	}

	row := buildRow(rec)
	jsonBody, err := json.Marshal(appendRequest{Values: [][]string{row}})
	if err != nil {
		return domain.PersistOutcome{Err: fmt.Errorf("marshal: %w", err)}
	}

	tok, err := l.tokens.Token()
	if err != nil {
		return domain.PersistOutcome{Err: fmt.Errorf("sheets token: %w", err)}
	}

	url := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s!A:J:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		l.apiBase, l.spreadsheetID, l.sheetName)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return domain.PersistOutcome{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		return domain.PersistOutcome{Err: fmt.Errorf("sheets request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return domain.PersistOutcome{Err: fmt.Errorf("sheets %d: %s", resp.StatusCode, string(respBody))}
	}

	l.logger.Info("Task appended to sheet",
		"sender", rec.Message.Sender, "intent", rec.Result.Intent)
	return domain.PersistOutcome{OK: true, Locator: l.Locator()}
}

func buildRow(rec domain.TaskRecord) []string {
	msg := rec.Message
	res := rec.Result

	context := "Direct"
	if msg.IsGroup {
		context = msg.GroupName
		if context == "" {
			context = msg.GroupID
		}
	}

	mediaLink := ""
	if msg.IsAudio {
		mediaLink = mediaLocator(msg.MediaRef)
	}

	return []string{
		normalizeTimestamp(msg.Timestamp),
		msg.Sender,
		string(msg.Gateway),
		context,
		string(res.Intent),
		string(res.Priority),
		truncate(res.Summary, 500),
		res.ClientAction,
		msg.MessageID,
		mediaLink,
	}
}

// normalizeTimestamp turns epoch seconds into a readable UTC stamp; other
// gateway formats are passed through, and a missing timestamp uses now.
func normalizeTimestamp(ts string) string {
	if ts == "" {
		return time.Now().Format(timestampLayout)
	}
	if epoch, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC().Format(timestampLayout)
	}
	return ts
}

// mediaLocator keeps the cell readable: inline data URIs carry megabytes
// of base64 that has no business in a spreadsheet.
func mediaLocator(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return "[inline media]"
	}
	return ref
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
