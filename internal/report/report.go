// Package report renders scanned batches as tables, JSON or XML and
// persists them to disk.
package report

import (
	"encoding/base64"
	"encoding/xml"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/scanning"
)

// Format selects an output encoding.
type Format string

// Supported formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatXML   Format = "xml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatXML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", errors.NewConfigFieldError(errors.CodeConfiguration, "unknown output format", "output", s)
	}
}

// Document is the serialized form of one scanned batch.
type Document struct {
	XMLName   xml.Name `xml:"scanresult" json:"-"`
	BatchID   string   `xml:"batch_id,attr,omitempty" json:"batch_id,omitempty"`
	StartTime string   `xml:"start_time,attr" json:"start_time"`
	EndTime   string   `xml:"end_time,attr" json:"end_time"`
	Duration  string   `xml:"duration,attr" json:"duration"`
	Targets   []Record `xml:"target" json:"targets"`
}

// Record is one target and its outcome.
type Record struct {
	Protocol     string `xml:"protocol,attr" json:"protocol"`
	Host         string `xml:"Host" json:"host"`
	Port         uint16 `xml:"Port,omitempty" json:"port,omitempty"`
	Alive        bool   `xml:"Alive" json:"alive"`
	Reason       string `xml:"Reason" json:"reason"`
	Banner       string `xml:"Banner,omitempty" json:"banner,omitempty"`
	BannerBase64 string `xml:"BannerBase64,omitempty" json:"banner_base64,omitempty"`
}

// Address renders the record the same way scanning.Target does.
func (r *Record) Address() string {
	if strings.HasPrefix(r.Protocol, "icmp") {
		return r.Protocol + "://" + r.Host
	}
	return r.Protocol + "://" + net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// New builds a document from a scanned batch. The batch is only read.
func New(batchID string, batch scanning.Batch, start, end time.Time) *Document {
	doc := &Document{
		BatchID:   batchID,
		StartTime: start.Format(time.RFC3339),
		EndTime:   end.Format(time.RFC3339),
		Duration:  end.Sub(start).Round(time.Millisecond).String(),
		Targets:   make([]Record, 0, len(batch)),
	}

	for _, t := range batch {
		rec := Record{
			Protocol: t.Protocol.String(),
			Host:     t.Host,
			Port:     t.Port,
			Alive:    t.Alive,
			Reason:   t.Reason.String(),
		}
		if len(t.Banner) > 0 {
			rec.Banner = Printable(t.Banner)
			rec.BannerBase64 = base64.StdEncoding.EncodeToString(t.Banner)
		}
		if t.Protocol.IsICMP() {
			rec.Port = 0
		}
		doc.Targets = append(doc.Targets, rec)
	}
	return doc
}

// Summary counts outcomes across the document.
func (d *Document) Summary() scanning.Summary {
	s := scanning.Summary{Total: len(d.Targets)}
	for i := range d.Targets {
		switch d.Targets[i].Reason {
		case scanning.ReasonReplyReceived.String():
			s.Alive++
		case scanning.ReasonTimedOut.String():
			s.TimedOut++
		case scanning.ReasonIcmpUnreachable.String():
			s.Unreachable++
		default:
			s.Unknown++
		}
	}
	return s
}

// Printable renders a banner as a single line of text. Trailing line
// breaks are dropped and other control or invalid bytes become '.'.
func Printable(b []byte) string {
	s := strings.TrimRight(string(b), "\r\n")
	return strings.Map(func(r rune) rune {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return '.'
		}
		return r
	}, s)
}
