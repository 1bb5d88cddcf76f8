package capture

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mono(t time.Time) *cdp.MonotonicTime {
	m := cdp.MonotonicTime(t)
	return &m
}

func wall(t time.Time) *cdp.TimeSinceEpoch {
	w := cdp.TimeSinceEpoch(t)
	return &w
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"log":`,
		"no log":         `{"foo":1}`,
		"no version":     `{"log":{"entries":[]}}`,
		"entries object": `{"log":{"version":"1.2","entries":{}}}`,
		"entries null":   `{"log":{"version":"1.2","entries":null}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArchive))
		})
	}
}

func TestParsePlaywrightStyleArchive(t *testing.T) {
	// Playwright writes fractional times and private underscore fields.
	body := `{"log":{"version":"1.2","creator":{"name":"Playwright","version":"1.52.0"},
	"browser":{"name":"chromium","version":"131.0"},
	"pages":[{"startedDateTime":"2026-01-01T00:00:00Z","id":"page@1","title":"Example"}],
	"entries":[{"pageref":"page@1","startedDateTime":"2026-01-01T00:00:00.123Z","time":12.345,
	"_frameref":"frame@2",
	"request":{"method":"GET","url":"https://api.example.com/v1/items?page=2","httpVersion":"HTTP/2.0",
	"cookies":[],"headers":[],"queryString":[{"name":"page","value":"2"}],"headersSize":-1,"bodySize":0},
	"response":{"status":200,"statusText":"OK","httpVersion":"HTTP/2.0","cookies":[],"headers":[],
	"content":{"size":2,"mimeType":"application/json","text":"{}"},"redirectURL":"","headersSize":-1,"bodySize":2},
	"cache":{},"timings":{"send":0.1,"wait":10.5,"receive":1.7}}]}}`

	har, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Len(t, har.Log.Entries, 1)
	assert.InDelta(t, 12.345, har.Log.Entries[0].Time, 0.0001)
	assert.Equal(t, "page@1", har.Log.Entries[0].Pageref)
	assert.Equal(t, "chromium", har.Log.Browser.Name)
}

func TestSummary(t *testing.T) {
	har := &HAR{Log: Log{Version: HARVersion, Entries: []Entry{
		{Request: Request{Method: "GET", URL: "https://api.example.com/a"}, Response: Response{Status: 200}},
		{Request: Request{Method: "POST", URL: "https://api.example.com/b"}, Response: Response{Status: 201}},
		{Request: Request{Method: "GET", URL: "https://cdn.example.com/x.js"}, Response: Response{Status: 404}},
		{Request: Request{Method: "GET", URL: "https://ads.example.net/p"}, Response: Response{Status: 0}},
	}}}

	s := har.Summary()
	assert.Equal(t, 4, s.Entries)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.Hosts["api.example.com"])
	assert.Equal(t, 3, s.Methods["GET"])
	assert.Equal(t, 2, s.Statuses["2xx"])
	assert.Equal(t, 1, s.Statuses["4xx"])

	top := s.TopHosts(2)
	require.Len(t, top, 2)
	assert.Equal(t, HostCount{Host: "api.example.com", Count: 2}, top[0])
	assert.Equal(t, "ads.example.net", top[1].Host)
}

func TestRecorderAssemblesArchive(t *testing.T) {
	rec := NewRecorder(Creator{Name: "revapi", Version: "test"})
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec.RequestWillBeSent("tab1", &network.EventRequestWillBeSent{
		RequestID: "1.1",
		Request: &network.Request{
			URL:         "https://api.example.com/v1/login?next=%2Fhome",
			Method:      "POST",
			Headers:     network.Headers{"Content-Type": "application/json"},
			HasPostData: true,
			PostDataEntries: []*network.PostDataEntry{
				{Bytes: base64.StdEncoding.EncodeToString([]byte(`{"user":"a"}`))},
			},
		},
		Timestamp: mono(t0),
		WallTime:  wall(t0),
	})
	rec.ResponseReceived("tab1", &network.EventResponseReceived{
		RequestID: "1.1",
		Response: &network.Response{
			URL:      "https://api.example.com/v1/login",
			Status:   200,
			Headers:  network.Headers{"Set-Cookie": "a=1\nb=2", "Content-Type": "application/json"},
			MimeType: "application/json",
			Protocol: "h2",
		},
	})
	require.True(t, rec.LoadingFinished("tab1", &network.EventLoadingFinished{
		RequestID:         "1.1",
		Timestamp:         mono(t0.Add(150 * time.Millisecond)),
		EncodedDataLength: 42,
	}))
	rec.SetBody("tab1", "1.1", []byte(`{"ok":true}`))

	// same request id on another tab is a different exchange
	rec.RequestWillBeSent("tab2", &network.EventRequestWillBeSent{
		RequestID: "1.1",
		Request:   &network.Request{URL: "https://cdn.example.com/logo.png", Method: "GET", Headers: network.Headers{}},
		Timestamp: mono(t0.Add(time.Second)),
		WallTime:  wall(t0.Add(time.Second)),
	})
	rec.LoadingFinished("tab2", &network.EventLoadingFinished{RequestID: "1.1", Timestamp: mono(t0.Add(1100 * time.Millisecond))})
	rec.SetBody("tab2", "1.1", []byte{0x89, 'P', 'N', 'G', 0xff})

	rec.RequestWillBeSent("tab1", &network.EventRequestWillBeSent{
		RequestID: "1.2",
		Request:   &network.Request{URL: "https://tracker.example.net/beacon", Method: "GET", Headers: network.Headers{}},
		Timestamp: mono(t0.Add(2 * time.Second)),
		WallTime:  wall(t0.Add(2 * time.Second)),
	})
	rec.LoadingFailed("tab1", &network.EventLoadingFailed{RequestID: "1.2", ErrorText: "net::ERR_BLOCKED_BY_CLIENT"})

	// unknown ids are ignored
	assert.False(t, rec.LoadingFinished("tab9", &network.EventLoadingFinished{RequestID: "x"}))

	path := filepath.Join(t.TempDir(), ArchiveName)
	require.NoError(t, rec.Flush(path))

	har, err := Load(path)
	require.NoError(t, err)
	require.Len(t, har.Log.Entries, 3)
	assert.Equal(t, "revapi", har.Log.Creator.Name)

	login := har.Log.Entries[0]
	assert.Equal(t, "POST", login.Request.Method)
	assert.Equal(t, "HTTP/2", login.Request.HTTPVersion)
	assert.Equal(t, []NameValue{{Name: "next", Value: "/home"}}, login.Request.QueryString)
	require.NotNil(t, login.Request.PostData)
	assert.Equal(t, `{"user":"a"}`, login.Request.PostData.Text)
	assert.Equal(t, "application/json", login.Request.PostData.MimeType)
	assert.Equal(t, 200, login.Response.Status)
	assert.Equal(t, "OK", login.Response.StatusText)
	assert.Equal(t, `{"ok":true}`, login.Response.Content.Text)
	assert.Equal(t, int64(42), login.Response.BodySize)
	assert.InDelta(t, 150, login.Time, 0.001)
	assert.Equal(t, t0.Format(time.RFC3339Nano), login.StartedDateTime)

	var cookies []string
	for _, h := range login.Response.Headers {
		if h.Name == "Set-Cookie" {
			cookies = append(cookies, h.Value)
		}
	}
	assert.Equal(t, []string{"a=1", "b=2"}, cookies)

	logo := har.Log.Entries[1]
	assert.Equal(t, "base64", logo.Response.Content.Encoding)
	raw, err := base64.StdEncoding.DecodeString(logo.Response.Content.Text)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', 0xff}, raw)

	failed := har.Log.Entries[2]
	assert.Equal(t, 0, failed.Response.Status)
	assert.Equal(t, "net::ERR_BLOCKED_BY_CLIENT", failed.Response.Comment)
}

func TestRecorderRedirectChain(t *testing.T) {
	rec := NewRecorder(Creator{Name: "revapi"})
	t0 := time.Now()

	rec.RequestWillBeSent("t", &network.EventRequestWillBeSent{
		RequestID: "7",
		Request:   &network.Request{URL: "http://example.com/", Method: "GET", Headers: network.Headers{}},
		Timestamp: mono(t0),
	})
	rec.RequestWillBeSent("t", &network.EventRequestWillBeSent{
		RequestID:        "7",
		Request:          &network.Request{URL: "https://example.com/", Method: "GET", Headers: network.Headers{}},
		RedirectResponse: &network.Response{Status: 301, Headers: network.Headers{"Location": "https://example.com/"}},
		Timestamp:        mono(t0.Add(20 * time.Millisecond)),
	})
	rec.ResponseReceived("t", &network.EventResponseReceived{RequestID: "7", Response: &network.Response{Status: 200}})

	har := rec.Archive()
	require.Len(t, har.Log.Entries, 2)
	assert.Equal(t, 301, har.Log.Entries[0].Response.Status)
	assert.Equal(t, "https://example.com/", har.Log.Entries[0].Response.RedirectURL)
	assert.InDelta(t, 20, har.Log.Entries[0].Time, 0.001)
	assert.Equal(t, 200, har.Log.Entries[1].Response.Status)
}

func TestRecorderUnfinishedEntriesHaveValidTimings(t *testing.T) {
	rec := NewRecorder(Creator{Name: "revapi"})
	rec.RequestWillBeSent("t", &network.EventRequestWillBeSent{
		RequestID: "pending",
		Request:   &network.Request{URL: "https://example.com/stream", Method: "GET", Headers: network.Headers{}},
		Timestamp: mono(time.Now()),
	})

	path := filepath.Join(t.TempDir(), ArchiveName)
	require.NoError(t, rec.Flush(path))

	har, err := Load(path)
	require.NoError(t, err)
	require.Len(t, har.Log.Entries, 1)
	tm := har.Log.Entries[0].Timings
	assert.Zero(t, tm.Send)
	assert.Zero(t, tm.Wait)
	assert.Zero(t, tm.Receive)
	assert.Zero(t, har.Log.Entries[0].Time)
}

func TestRecorderIgnoresEventsAfterFlush(t *testing.T) {
	rec := NewRecorder(Creator{Name: "revapi"})
	path := filepath.Join(t.TempDir(), ArchiveName)
	require.NoError(t, rec.Flush(path))

	rec.RequestWillBeSent("t", &network.EventRequestWillBeSent{
		RequestID: "late",
		Request:   &network.Request{URL: "https://example.com/late", Method: "GET"},
	})
	assert.Equal(t, 0, rec.Len())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
