package capture

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
)

// Recorder assembles a HAR archive from DevTools Network domain events.
// Events from several tabs may arrive concurrently; requests are keyed by
// tab and request id. Entries keep the order their requests were sent in.
type Recorder struct {
	mu      sync.Mutex
	creator Creator
	order   []*exchange
	live    map[string]*exchange
	flushed bool
}

type exchange struct {
	entry    Entry
	started  time.Time
	mono     time.Time
	timing   *network.ResourceTiming
	finished bool
}

// NewRecorder returns an empty recorder that stamps archives with creator.
func NewRecorder(creator Creator) *Recorder {
	return &Recorder{
		creator: creator,
		live:    make(map[string]*exchange),
	}
}

func key(tab string, id network.RequestID) string {
	return tab + "/" + string(id)
}

// RequestWillBeSent opens an entry. A redirect arrives as a second event
// with the same id; the previous hop is closed with the redirect response.
func (r *Recorder) RequestWillBeSent(tab string, ev *network.EventRequestWillBeSent) {
	if ev == nil || ev.Request == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		return
	}

	k := key(tab, ev.RequestID)
	if prev, ok := r.live[k]; ok && ev.RedirectResponse != nil {
		applyResponse(&prev.entry, ev.RedirectResponse)
		prev.entry.Response.RedirectURL = ev.Request.URL
		prev.timing = ev.RedirectResponse.Timing
		if ev.Timestamp != nil {
			prev.finish(ev.Timestamp.Time())
		}
	}

	req := ev.Request
	fullURL := req.URL + req.URLFragment
	x := &exchange{
		entry: Entry{
			Request: Request{
				Method:      req.Method,
				URL:         fullURL,
				HTTPVersion: "HTTP/1.1",
				Cookies:     []Cookie{},
				Headers:     headerPairs(req.Headers),
				QueryString: queryPairs(fullURL),
				HeadersSize: -1,
			},
			Response: Response{
				Cookies:     []Cookie{},
				Headers:     []NameValue{},
				HeadersSize: -1,
				BodySize:    -1,
			},
			Timings: Timings{Send: -1, Wait: -1, Receive: -1},
		},
	}
	if ev.WallTime != nil {
		x.started = ev.WallTime.Time()
	} else {
		x.started = time.Now()
	}
	x.entry.StartedDateTime = x.started.UTC().Format(time.RFC3339Nano)
	if ev.Timestamp != nil {
		x.mono = ev.Timestamp.Time()
	}
	if body := postBody(req); body != "" {
		x.entry.Request.PostData = &PostData{
			MimeType: headerValue(x.entry.Request.Headers, "Content-Type"),
			Text:     body,
		}
		x.entry.Request.BodySize = int64(len(body))
	}

	r.order = append(r.order, x)
	r.live[k] = x
}

// ResponseReceived records status, headers and protocol.
func (r *Recorder) ResponseReceived(tab string, ev *network.EventResponseReceived) {
	if ev == nil || ev.Response == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.live[key(tab, ev.RequestID)]
	if !ok {
		return
	}
	applyResponse(&x.entry, ev.Response)
	x.timing = ev.Response.Timing
}

// LoadingFinished closes the entry's timing. It reports whether the
// request was known, so the caller can decide to fetch the body.
func (r *Recorder) LoadingFinished(tab string, ev *network.EventLoadingFinished) bool {
	if ev == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.live[key(tab, ev.RequestID)]
	if !ok {
		return false
	}
	x.entry.Response.BodySize = int64(ev.EncodedDataLength)
	if ev.Timestamp != nil {
		x.finish(ev.Timestamp.Time())
	}
	return true
}

// LoadingFailed marks the entry as failed with the browser's error text.
func (r *Recorder) LoadingFailed(tab string, ev *network.EventLoadingFailed) {
	if ev == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.live[key(tab, ev.RequestID)]
	if !ok {
		return
	}
	x.entry.Response.Status = 0
	x.entry.Response.Comment = ev.ErrorText
	if ev.Canceled {
		x.entry.Comment = "canceled"
	}
	if ev.Timestamp != nil {
		x.finish(ev.Timestamp.Time())
	}
	delete(r.live, key(tab, ev.RequestID))
}

// SetBody attaches a response body fetched after LoadingFinished.
func (r *Recorder) SetBody(tab string, id network.RequestID, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(tab, id)
	x, ok := r.live[k]
	if !ok {
		return
	}
	c := &x.entry.Response.Content
	c.Size = int64(len(body))
	if utf8.Valid(body) {
		c.Text = string(body)
	} else {
		c.Text = base64.StdEncoding.EncodeToString(body)
		c.Encoding = "base64"
	}
	delete(r.live, k)
}

// Len returns the number of entries recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Archive returns a snapshot of the recorded traffic.
func (r *Recorder) Archive() *HAR {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.order))
	for _, x := range r.order {
		e := x.entry
		// send, wait and receive may not be -1; unfinished requests report 0.
		e.Timings.Send = max(e.Timings.Send, 0)
		e.Timings.Wait = max(e.Timings.Wait, 0)
		e.Timings.Receive = max(e.Timings.Receive, 0)
		entries = append(entries, e)
	}
	return &HAR{Log: Log{
		Version: HARVersion,
		Creator: r.creator,
		Entries: entries,
	}}
}

// Flush writes the archive to path. Events after the first Flush are
// ignored so the file on disk is final.
func (r *Recorder) Flush(path string) error {
	har := r.Archive()
	r.mu.Lock()
	r.flushed = true
	r.mu.Unlock()
	if err := Write(path, har); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

func (x *exchange) finish(at time.Time) {
	if x.finished || x.mono.IsZero() {
		return
	}
	x.finished = true
	total := float64(at.Sub(x.mono)) / float64(time.Millisecond)
	if total < 0 {
		total = 0
	}
	x.entry.Time = total
	x.entry.Timings = splitTimings(x.timing, total)
}

// splitTimings derives HAR phases from DevTools resource timing, whose
// offsets are milliseconds relative to the request start.
func splitTimings(t *network.ResourceTiming, total float64) Timings {
	if t == nil || t.SendEnd <= 0 {
		return Timings{Send: 0, Wait: total, Receive: 0}
	}
	tm := Timings{
		Blocked: -1,
		DNS:     -1,
		Connect: -1,
		SSL:     -1,
		Send:    t.SendEnd - t.SendStart,
		Wait:    t.ReceiveHeadersEnd - t.SendEnd,
	}
	if t.DNSStart >= 0 && t.DNSEnd >= t.DNSStart {
		tm.DNS = t.DNSEnd - t.DNSStart
	}
	if t.ConnectStart >= 0 && t.ConnectEnd >= t.ConnectStart {
		tm.Connect = t.ConnectEnd - t.ConnectStart
	}
	if t.SslStart >= 0 && t.SslEnd >= t.SslStart {
		tm.SSL = t.SslEnd - t.SslStart
	}
	if t.SendStart > 0 {
		tm.Blocked = t.SendStart
	}
	tm.Receive = total - t.ReceiveHeadersEnd
	if tm.Receive < 0 {
		tm.Receive = 0
	}
	if tm.Wait < 0 {
		tm.Wait = 0
	}
	return tm
}

func applyResponse(e *Entry, resp *network.Response) {
	e.Response.Status = int(resp.Status)
	e.Response.StatusText = resp.StatusText
	if e.Response.StatusText == "" {
		e.Response.StatusText = http.StatusText(int(resp.Status))
	}
	e.Response.Headers = headerPairs(resp.Headers)
	e.Response.Content.MimeType = resp.MimeType
	if v := httpVersion(resp.Protocol); v != "" {
		e.Request.HTTPVersion = v
		e.Response.HTTPVersion = v
	} else {
		e.Response.HTTPVersion = e.Request.HTTPVersion
	}
	if loc := headerValue(e.Response.Headers, "Location"); loc != "" {
		e.Response.RedirectURL = loc
	}
	e.ServerIPAddress = resp.RemoteIPAddress
}

func httpVersion(protocol string) string {
	switch strings.ToLower(protocol) {
	case "h2", "http/2", "http/2.0":
		return "HTTP/2"
	case "h3", "http/3":
		return "HTTP/3"
	case "http/1.0":
		return "HTTP/1.0"
	case "http/1.1":
		return "HTTP/1.1"
	default:
		return ""
	}
}

// headerPairs flattens DevTools headers. Repeated headers such as
// Set-Cookie arrive joined by newlines.
func headerPairs(h network.Headers) []NameValue {
	pairs := make([]NameValue, 0, len(h))
	for name, v := range h {
		for _, line := range strings.Split(fmt.Sprint(v), "\n") {
			pairs = append(pairs, NameValue{Name: name, Value: line})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return strings.ToLower(pairs[i].Name) < strings.ToLower(pairs[j].Name)
	})
	return pairs
}

func headerValue(pairs []NameValue, name string) string {
	for _, p := range pairs {
		if strings.EqualFold(p.Name, name) {
			return p.Value
		}
	}
	return ""
}

func queryPairs(rawURL string) []NameValue {
	u, err := url.Parse(rawURL)
	if err != nil {
		return []NameValue{}
	}
	params := u.Query()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := []NameValue{}
	for _, name := range names {
		for _, value := range params[name] {
			pairs = append(pairs, NameValue{Name: name, Value: value})
		}
	}
	return pairs
}

// postBody joins the request body entries. DevTools sends them base64.
func postBody(req *network.Request) string {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range req.PostDataEntries {
		if part == nil {
			continue
		}
		if raw, err := base64.StdEncoding.DecodeString(part.Bytes); err == nil {
			sb.Write(raw)
		} else {
			sb.WriteString(part.Bytes)
		}
	}
	return sb.String()
}
