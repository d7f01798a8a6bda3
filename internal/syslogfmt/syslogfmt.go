// Package syslogfmt renders event records as RFC 5424 syslog messages.
//
// The gateway is a transport, not a classifier: every message is emitted
// with a fixed priority (facility user, severity info) and a fixed service
// identity. Event metadata travels in structured-data elements so the
// downstream relay can reconstruct the collector context.
package syslogfmt

import (
	"strconv"
	"strings"
	"time"

	"hecrelay/internal/hec"
)

const (
	facilityUser = 1
	severityInfo = 6
	priority     = facilityUser*8 + severityInfo

	// Fixed service identity on every emitted message.
	Hostname = "cfe-16"
	AppName  = "capsulated"

	sdMetadata = "cfe_16-metadata@48577"
	sdOrigin   = "cfe_16-origin@48577"

	nilValue = "-"
)

// RFC 5424 TIMESTAMP with millisecond precision, always UTC.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Convert renders one event record as an RFC 5424 message.
//
// The timestamp field is set only when the record's time was parsed from
// the client; otherwise NILVALUE is emitted and the downstream relay is
// expected to stamp arrival time.
func Convert(rec hec.Record) []byte {
	var b strings.Builder
	b.Grow(len(rec.Event) + 256)

	b.WriteByte('<')
	b.WriteString(strconv.Itoa(priority))
	b.WriteString(">1 ")

	if rec.Time.Parsed {
		b.WriteString(time.UnixMilli(rec.Time.EpochMillis).UTC().Format(timeLayout))
	} else {
		b.WriteString(nilValue)
	}

	b.WriteByte(' ')
	b.WriteString(Hostname)
	b.WriteByte(' ')
	b.WriteString(AppName)
	b.WriteString(" - - ")

	writeMetadata(&b, rec)
	writeOrigin(&b, rec.Origin)

	b.WriteByte(' ')
	b.WriteString(rec.Event)

	return []byte(b.String())
}

// writeMetadata emits the cfe_16-metadata element: collector context plus
// the time-resolution outcome. ack_id appears only for tracked channels,
// time only when a client value was actually parsed.
func writeMetadata(b *strings.Builder, rec hec.Record) {
	b.WriteByte('[')
	b.WriteString(sdMetadata)
	writeParam(b, "authentication_token", rec.Token)
	writeParam(b, "channel", rec.Channel)
	if rec.Tracked {
		writeParam(b, "ack_id", strconv.Itoa(rec.AckID))
	}
	writeParam(b, "time_source", string(rec.Time.Source))
	writeParam(b, "time_parsed", strconv.FormatBool(rec.Time.Parsed))
	if rec.Time.Parsed {
		writeParam(b, "time", strconv.FormatInt(rec.Time.EpochMillis, 10))
	}
	b.WriteByte(']')
}

// writeOrigin emits the cfe_16-origin element with whichever forwarded
// headers the request carried. The element is present even when empty.
func writeOrigin(b *strings.Builder, o hec.Origin) {
	b.WriteByte('[')
	b.WriteString(sdOrigin)
	if o.ForwardedFor != "" {
		writeParam(b, "X-Forwarded-For", o.ForwardedFor)
	}
	if o.ForwardedHost != "" {
		writeParam(b, "X-Forwarded-Host", o.ForwardedHost)
	}
	if o.ForwardedProto != "" {
		writeParam(b, "X-Forwarded-Proto", o.ForwardedProto)
	}
	b.WriteByte(']')
}

func writeParam(b *strings.Builder, name, value string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	b.WriteString(escapeValue(value))
	b.WriteByte('"')
}

// escapeValue escapes the three characters RFC 5424 reserves in PARAM-VALUE.
func escapeValue(v string) string {
	if !strings.ContainsAny(v, `\"]`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 8)
	for i := 0; i < len(v); i++ {
		switch c := v[i]; c {
		case '\\', '"', ']':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
