// Package capture holds the HAR 1.2 archive model shared by both drivers:
// the recorder that assembles an archive from DevTools network events and
// the loader used to validate and summarize a finished archive.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
)

// ArchiveName is the fixed file name of a session's capture archive.
const ArchiveName = "recording.har"

// HARVersion is the archive format version written and accepted.
const HARVersion = "1.2"

// ErrInvalidArchive is returned when a file is not a structurally valid HAR.
var ErrInvalidArchive = errors.New("invalid HAR archive")

// HAR is the top-level archive structure.
type HAR struct {
	Log Log `json:"log"`
}

// Log holds the archive metadata and entries.
type Log struct {
	Version string   `json:"version"`
	Creator Creator  `json:"creator"`
	Browser *Creator `json:"browser,omitempty"`
	Pages   []Page   `json:"pages,omitempty"`
	Entries []Entry  `json:"entries"`
	Comment string   `json:"comment,omitempty"`
}

// Creator identifies the tool (or browser) that produced the archive.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Page is a top-level document the entries belong to.
type Page struct {
	StartedDateTime string `json:"startedDateTime"`
	ID              string `json:"id"`
	Title           string `json:"title"`
}

// Entry is a single request/response exchange. Playwright writes
// fractional milliseconds, so times are floats.
type Entry struct {
	Pageref         string   `json:"pageref,omitempty"`
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           struct{} `json:"cache"`
	Timings         Timings  `json:"timings"`
	ServerIPAddress string   `json:"serverIPAddress,omitempty"`
	Comment         string   `json:"comment,omitempty"`
}

// Request is the request half of an Entry.
type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []Cookie    `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	PostData    *PostData   `json:"postData,omitempty"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

// Response is the response half of an Entry.
type Response struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []Cookie    `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
	Comment     string      `json:"comment,omitempty"`
}

// Cookie is a request or response cookie.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Expires  string `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

// Content is a response body. Binary bodies are base64 with Encoding set.
type Content struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// PostData is a request body.
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Timings splits Entry.Time into phases; -1 means not available.
type Timings struct {
	Blocked float64 `json:"blocked,omitempty"`
	DNS     float64 `json:"dns,omitempty"`
	Connect float64 `json:"connect,omitempty"`
	SSL     float64 `json:"ssl,omitempty"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// NameValue is a header or query string pair.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DefaultCreator names this binary in archives it writes itself.
func DefaultCreator() Creator {
	c := Creator{Name: "revapi", Version: "dev"}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		c.Version = info.Main.Version
	}
	return c
}

// Load reads and structurally validates the archive at path.
func Load(path string) (*HAR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return Parse(data)
}

// Parse validates raw archive bytes. It checks structure only; traffic is
// not interpreted.
func Parse(data []byte) (*HAR, error) {
	var raw struct {
		Log *struct {
			Version string          `json:"version"`
			Entries json.RawMessage `json:"entries"`
		} `json:"log"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if raw.Log == nil {
		return nil, fmt.Errorf("%w: missing log object", ErrInvalidArchive)
	}
	if raw.Log.Version == "" {
		return nil, fmt.Errorf("%w: missing log.version", ErrInvalidArchive)
	}
	if len(raw.Log.Entries) == 0 || raw.Log.Entries[0] != '[' {
		return nil, fmt.Errorf("%w: log.entries is not an array", ErrInvalidArchive)
	}

	var har HAR
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return &har, nil
}

// Write stores the archive at path, replacing any previous file in one
// rename so readers never observe a half-written archive.
func Write(path string, har *HAR) error {
	data, err := json.MarshalIndent(har, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal HAR: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// #nosec G306 -- archives are meant to be read by the analysis command
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Summary is a shape-only overview of an archive.
type Summary struct {
	Entries  int            `json:"entries"`
	Failed   int            `json:"failed"`
	Hosts    map[string]int `json:"hosts"`
	Methods  map[string]int `json:"methods"`
	Statuses map[string]int `json:"statuses"`
}

// HostCount is one row of Summary.TopHosts.
type HostCount struct {
	Host  string
	Count int
}

// Summary counts entries by host, method and status class.
func (h *HAR) Summary() Summary {
	s := Summary{
		Entries:  len(h.Log.Entries),
		Hosts:    make(map[string]int),
		Methods:  make(map[string]int),
		Statuses: make(map[string]int),
	}
	for _, e := range h.Log.Entries {
		if u, err := url.Parse(e.Request.URL); err == nil && u.Host != "" {
			s.Hosts[u.Host]++
		}
		s.Methods[e.Request.Method]++
		if e.Response.Status <= 0 {
			s.Failed++
			continue
		}
		s.Statuses[fmt.Sprintf("%dxx", e.Response.Status/100)]++
	}
	return s
}

// TopHosts returns the n busiest hosts, ties broken by name.
func (s Summary) TopHosts(n int) []HostCount {
	rows := make([]HostCount, 0, len(s.Hosts))
	for host, count := range s.Hosts {
		rows = append(rows, HostCount{Host: host, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Host < rows[j].Host
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}
