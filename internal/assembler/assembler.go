// Package assembler turns an incoming request into a LogRecord,
// computing derived hashes, geographic id and deterministic sampling
// buckets along the way (§4.4).
package assembler

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coffersTech/logpipe/internal/filter"
	"github.com/coffersTech/logpipe/internal/logrecord"
)

// Env is the sanitized-on-write snapshot of process configuration: only
// scalar entries survive (§4.4.9).
type Env map[string]any

// Config configures the assembler's defensive knobs.
type Config struct {
	MaxBodySize int // MAX_BODY_SIZE, characters; <=0 reverts to DefaultMaxBodySize
}

const DefaultMaxBodySize = 8192

func (c Config) maxBodySize() int {
	if c.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return c.MaxBodySize
}

// Assemble builds a LogRecord from a request, optional caller data and
// environment, as of workerStartTime (the instant the request began
// being processed — callers pass time.Now() at request entry).
func Assemble(req *filter.Request, data any, env Env, cfg Config, workerStartTime time.Time) logrecord.Record {
	rec := logrecord.New()
	now := time.Now()

	// 1. Timing.
	rec["requestTime"] = workerStartTime.UnixMilli()
	rec["receivedAt"] = logrecord.FormatTimestamp(workerStartTime)
	rec["processedAt"] = now.UTC().Format(time.RFC3339Nano)
	rec["processingDurationMs"] = now.Sub(workerStartTime).Milliseconds()
	rec["clientTcpRtt"] = req.CF.ClientTCPRTT

	// 2. Identifiers.
	rec["logId"] = logID(workerStartTime)
	if rayID := req.Header.Get("cf-ray"); rayID != "" {
		rec["rayId"] = rayID
	} else {
		rec["rayId"] = nil
	}

	// 3. Hashes.
	ja3 := req.CF.JA3Hash
	ua := req.Header.Get("User-Agent")
	clientIP := req.Header.Get("CF-Connecting-IP")

	tlsHash := crc32Decimal(ja3 + req.CF.TLSCipher + req.CF.TLSClientRandom)
	deviceHash := crc32Decimal(ua + ja3 + req.CF.TLSCipher)
	connectionHash := crc32Decimal(clientIP + ua + ja3 + req.CF.TLSCipher)
	rec["tlsHash"] = tlsHash
	rec["deviceHash"] = deviceHash
	rec["connectionHash"] = connectionHash

	// 4. Sampling buckets — pure functions of crc32(connectionHash).
	bucket := crc32Uint(connectionHash)
	rec["sample10"] = int64(bucket % 10)
	rec["sample100"] = int64(bucket % 100)

	// 5. Device classification.
	if dt := classifyDevice(ua); dt != nil {
		rec["deviceType"] = *dt
	} else {
		rec["deviceType"] = nil
	}

	// 6. Geographic id.
	if g := geoID(req.CF); g != nil {
		rec["geoId"] = *g
	} else {
		rec["geoId"] = nil
	}

	// 7. Body extraction — only for methods other than GET/HEAD, only if
	// there is a body, never consuming req's own copy (filter.Request
	// buffers it once in FromHTTP).
	assembleBody(rec, req, cfg)

	// 8. Cookies and caller data.
	rec["cookies"] = serializeCookies(req.Cookies())
	rec["data"] = serializeCallerData(data)

	// 9. Environment sanitation.
	rec["env"] = serializeEnv(env)

	assembleRequestFields(rec, req)
	assembleCFFields(rec, req.CF)

	return rec
}

func assembleRequestFields(rec logrecord.Record, req *filter.Request) {
	u := req.ParsedURL()
	rec["url"] = req.URL
	rec["urlProtocol"] = u.Scheme
	rec["urlHostname"] = u.Hostname()
	rec["urlPathname"] = u.Path
	rec["urlSearch"] = u.RawQuery
	rec["method"] = req.Method
	rec["headers"] = serializeHeaders(req.Header)
	rec["mime"] = req.Header.Get("Content-Type")
	if cl := req.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			rec["contentLength"] = n
		}
	}
}

func assembleCFFields(rec logrecord.Record, cf filter.CF) {
	rec["asn"] = int64(cf.ASN)
	rec["colo"] = orNil(cf.Colo)
	rec["country"] = orNil(cf.Country)
	rec["region"] = orNil(cf.Region)
	rec["city"] = orNil(cf.City)
	rec["postalCode"] = orNil(cf.PostalCode)
	rec["continent"] = orNil(cf.Continent)
	rec["latitude"] = orNil(cf.Latitude)
	rec["longitude"] = orNil(cf.Longitude)
	rec["timezone"] = orNil(cf.Timezone)
	rec["httpProtocol"] = orNil(cf.HTTPProtocol)
	rec["tlsCipher"] = orNil(cf.TLSCipher)
	rec["tlsVersion"] = orNil(cf.TLSVersion)
	rec["tlsClientRandom"] = orNil(cf.TLSClientRandom)
	rec["ja3"] = orNil(cf.JA3Hash)
	rec["threatScore"] = int64(cf.ThreatScore)
	if cf.BotManagement != nil {
		rec["botScore"] = int64(cf.BotManagement.Score)
		rec["verifiedBot"] = cf.BotManagement.VerifiedBot
		rec["corporateProxy"] = cf.BotManagement.CorporateProxy
	}
	if cf.TLSClientAuth != nil {
		b, _ := json.Marshal(cf.TLSClientAuth)
		rec["tlsClientAuth"] = string(b)
	}
}

func assembleBody(rec logrecord.Record, req *filter.Request, cfg Config) {
	if req.Method == "GET" || req.Method == "HEAD" {
		return
	}
	body := req.Body()
	if len(body) == 0 {
		return
	}
	text := string(body)
	rec["bodySize"] = int64(len(body)) // UTF-8 byte size (§4.4.7), not rune count

	max := cfg.maxBodySize()
	runes := []rune(text)
	if len(runes) > max {
		rec["body"] = string(runes[:max])
		rec["bodyTruncated"] = true
	} else {
		rec["body"] = text
		rec["bodyTruncated"] = false
	}
}

// logID builds a time-sortable unique token from workerStartTime using a
// UUIDv7, whose leading 48 bits are a millisecond timestamp; that field is
// set to workerStartTime so ids sort by request start (google/uuid is
// already a dependency of the SDK half of this codebase's ancestor,
// promoted here to server-side use).
func logID(workerStartTime time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system entropy source is broken;
		// fall back to a V4 so logging never blocks on it.
		id = uuid.New()
	}
	ms := uint64(workerStartTime.UnixMilli())
	for i := 0; i < 6; i++ {
		id[i] = byte(ms >> (40 - 8*i))
	}
	return id.String()
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func serializeHeaders(h map[string][]string) string {
	b, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func serializeCookies(cookies map[string]string) string {
	b, err := json.Marshal(cookies)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// serializeCallerData attempts to JSON-serialize caller-supplied data; on
// failure it records a stub rather than dropping the record (§4.4.8,
// §7 AssemblyError).
func serializeCallerData(data any) string {
	if data == nil {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		stub, _ := json.Marshal(map[string]string{"error": "AssemblyError", "message": err.Error()})
		return string(stub)
	}
	return string(b)
}

// serializeEnv keeps only scalar entries (§4.4.9).
func serializeEnv(env Env) string {
	scalars := make(map[string]any, len(env))
	for k, v := range env {
		switch v.(type) {
		case string, bool, int, int64, float64:
			scalars[k] = v
		}
	}
	b, err := json.Marshal(scalars)
	if err != nil {
		return "{}"
	}
	return string(b)
}
