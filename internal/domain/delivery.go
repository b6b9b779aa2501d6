package domain

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Mode selects what happens to a rendered ticket.
type Mode string

const (
	ModePrint    Mode = "print"
	ModeView     Mode = "view"
	ModeDownload Mode = "download"
)

// ParseMode is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePrint, ModeView, ModeDownload:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

const MediaTypePDF = "application/pdf"

// RenderedDocument is the opaque payload returned by the Document Service.
type RenderedDocument struct {
	Data      []byte
	MediaType string
	// SuggestedFilename comes from Content-Disposition and is informational only.
	SuggestedFilename string
	Cached            bool
}

// DocumentRef addresses a materialized document on the local host.
type DocumentRef struct {
	Path string
}

// URL is the file:// form of Path, suitable for a browser tab.
func (r DocumentRef) URL() string {
	p, err := filepath.Abs(r.Path)
	if err != nil {
		p = r.Path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// Outcome reports what a delivery actually did.
type Outcome struct {
	RequestedMode  Mode   `json:"requested_mode"`
	PerformedMode  Mode   `json:"performed_mode"`
	FellBack       bool   `json:"fell_back"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Filename       string `json:"filename"`
	SavedPath      string `json:"saved_path,omitempty"`
	Bytes          int    `json:"bytes"`
	Cached         bool   `json:"cached"`
	Surface        string `json:"surface,omitempty"`
}
